// Package widget defines the core data model shared by the generation
// pipeline: manifests, ports, parsed widgets, and draft artifacts.
package widget

import (
	"encoding/json"
	"fmt"
	"time"
)

// PortDefinition describes a named, typed channel through which a widget
// sends or receives events/values to and from other widgets.
type PortDefinition struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	ListID      string `json:"listId,omitempty"`
}

// EventDecls declares the named events a widget emits and listens for.
type EventDecls struct {
	Emits   []string `json:"emits,omitempty"`
	Listens []string `json:"listens,omitempty"`
}

// Manifest is the structured metadata describing a widget's identity,
// declared capabilities, and input/output ports.
//
// Model output is loosely typed, so unknown fields are preserved in Extra
// rather than dropped. The required core fields stay strongly typed.
type Manifest struct {
	ID           string                    `json:"id"`
	Name         string                    `json:"name"`
	Version      string                    `json:"version"`
	Description  string                    `json:"description,omitempty"`
	Entry        string                    `json:"entry"`
	Capabilities []string                  `json:"capabilities,omitempty"`
	Events       EventDecls                `json:"events,omitempty"`
	Inputs       map[string]PortDefinition `json:"inputs,omitempty"`
	Outputs      map[string]PortDefinition `json:"outputs,omitempty"`

	// Extra holds unrecognized manifest fields for forward compatibility.
	Extra map[string]json.RawMessage `json:"-"`
}

// manifestAlias avoids recursion in the custom JSON methods.
type manifestAlias Manifest

var manifestKnownFields = map[string]bool{
	"id": true, "name": true, "version": true, "description": true,
	"entry": true, "capabilities": true, "events": true,
	"inputs": true, "outputs": true,
}

// UnmarshalJSON decodes the known fields and stashes everything else in Extra.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var alias manifestAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if manifestKnownFields[key] {
			delete(raw, key)
		}
	}
	if len(raw) > 0 {
		alias.Extra = raw
	}

	*m = Manifest(alias)
	return nil
}

// MarshalJSON re-emits the known fields plus the preserved Extra bag.
func (m Manifest) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(manifestAlias(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, value := range m.Extra {
		if _, exists := merged[key]; !exists {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// Validate checks the required manifest fields.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("manifest missing id")
	}
	if m.Name == "" {
		return fmt.Errorf("manifest missing name")
	}
	if m.Version == "" {
		return fmt.Errorf("manifest missing version")
	}
	if m.Entry == "" {
		return fmt.Errorf("manifest missing entry")
	}
	return nil
}

// ParsedWidget is a structurally valid widget recovered from model output.
type ParsedWidget struct {
	Manifest    Manifest `json:"manifest"`
	Markup      string   `json:"markup"`
	Explanation string   `json:"explanation,omitempty"`
}

// DraftWidget is an unsaved generated widget artifact not yet committed to
// a user's permanent library.
type DraftWidget struct {
	ID        string            `json:"id"`
	Manifest  Manifest          `json:"manifest"`
	Markup    string            `json:"markup"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
