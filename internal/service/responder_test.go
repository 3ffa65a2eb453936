package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zapcrm/zapcrm/internal/model"
)

func TestReplyKeywordExactness(t *testing.T) {
	tests := []struct {
		body string
		kind model.Kind
		want bool
	}{
		{"menu", model.KindText, true},
		{"Menu", model.KindText, true},
		{"  MENU \n", model.KindText, true},
		{"menu please", model.KindText, false},
		{"menus", model.KindText, false},
		{"", model.KindText, false},
		{"menu", model.KindImage, false},
	}

	for _, tt := range tests {
		_, ok := Reply(tt.kind, tt.body, "Ana")
		assert.Equal(t, tt.want, ok, "body %q kind %s", tt.body, tt.kind)
	}
}

func TestReplyGreetsContact(t *testing.T) {
	reply, ok := Reply(model.KindText, "menu", "Ana")
	assert.True(t, ok)
	assert.True(t, strings.HasPrefix(reply, "Olá Ana!"))
	assert.Contains(t, reply, "1. Falar com Atendente")
	assert.Contains(t, reply, "3. Suporte")
}
