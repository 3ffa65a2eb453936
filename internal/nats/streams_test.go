package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "inbound.PN1", JobSubject("PN1"))
	assert.Equal(t, "inbound.a_b_c_", JobSubject("a.b*c>"))
	assert.Equal(t, "inbound._", JobSubject(""))
	assert.Equal(t, "deadletter.inbound.PN1", DeadLetterSubject("PN1"))
	assert.Equal(t, "realtime.t1", RealtimeSubject("t1"))
}
