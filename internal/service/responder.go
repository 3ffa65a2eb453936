package service

import (
	"fmt"
	"strings"

	"github.com/zapcrm/zapcrm/internal/model"
)

// MenuKeyword triggers the canned greeting.
const MenuKeyword = "menu"

const menuTemplate = "Olá %s! 👋\nEu sou o Robô do SaaS.\n\nEscolha uma opção:\n1. Falar com Atendente\n2. Ver Planos\n3. Suporte"

// Reply returns the automated answer to an inbound message, if any. Only a
// text body equal to the keyword after trimming and case folding matches.
func Reply(kind model.Kind, body, contactName string) (string, bool) {
	if kind != model.KindText {
		return "", false
	}
	if strings.ToLower(strings.TrimSpace(body)) != MenuKeyword {
		return "", false
	}
	return fmt.Sprintf(menuTemplate, contactName), true
}
