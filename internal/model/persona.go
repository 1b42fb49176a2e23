package model

import (
	"encoding/json"
)

// Persona is the personality metadata of an agent, owned by the agent
// profile service and consumed here to build system prompts.
type Persona struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Tone            string   `json:"tone"`
	LanguageStyle   string   `json:"languageStyle"`
	Emotion         string   `json:"emotion"`
	Capabilities    []string `json:"capabilities,omitempty"`
	Description     string   `json:"description,omitempty"`
	KnowledgeSource string   `json:"knowledgeSource,omitempty"`
}

// personaDocument accepts both the flat shape and the nested
// "personality" block the agent service stores.
type personaDocument struct {
	ID              string   `json:"id"`
	AgentID         string   `json:"agentId"`
	Name            string   `json:"name"`
	AgentName       string   `json:"agentName"`
	Tone            string   `json:"tone"`
	LanguageStyle   string   `json:"languageStyle"`
	Emotion         string   `json:"emotion"`
	Capabilities    []string `json:"capabilities"`
	Description     string   `json:"description"`
	KnowledgeSource string   `json:"knowledgeSource"`
	Personality     *struct {
		Tone          string `json:"tone"`
		LanguageStyle string `json:"languageStyle"`
		Emotion       string `json:"emotion"`
	} `json:"personality"`
}

// UnmarshalJSON decodes either persona shape.
func (p *Persona) UnmarshalJSON(data []byte) error {
	var doc personaDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	*p = Persona{
		ID:              firstNonEmpty(doc.ID, doc.AgentID),
		Name:            firstNonEmpty(doc.Name, doc.AgentName),
		Tone:            doc.Tone,
		LanguageStyle:   doc.LanguageStyle,
		Emotion:         doc.Emotion,
		Capabilities:    doc.Capabilities,
		Description:     doc.Description,
		KnowledgeSource: doc.KnowledgeSource,
	}
	if doc.Personality != nil {
		p.Tone = firstNonEmpty(doc.Personality.Tone, p.Tone)
		p.LanguageStyle = firstNonEmpty(doc.Personality.LanguageStyle, p.LanguageStyle)
		p.Emotion = firstNonEmpty(doc.Personality.Emotion, p.Emotion)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
