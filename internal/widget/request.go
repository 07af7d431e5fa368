package widget

// Mode selects the generation flow a request goes through.
type Mode string

const (
	ModeNew       Mode = "new"
	ModeVariation Mode = "variation"
	ModeIterate   Mode = "iterate"
	ModeTemplate  Mode = "template"
)

// Complexity is a coarse hint for how elaborate the generated widget
// should be.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityStandard Complexity = "standard"
	ComplexityAdvanced Complexity = "advanced"
)

// GenerationRequest captures a user's natural-language widget request.
// It is immutable once a session has been created from it.
type GenerationRequest struct {
	Description string          `json:"description"`
	Mode        Mode            `json:"mode"`
	Complexity  Complexity      `json:"complexity,omitempty"`
	Style       string          `json:"style,omitempty"`
	Features    map[string]bool `json:"features,omitempty"`

	// Provider/Model override automatic provider selection when set.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// SourceWidgetID references the widget a variation or iteration
	// starts from.
	SourceWidgetID string `json:"source_widget_id,omitempty"`

	// Explicit port name hints for the prompt.
	InputNames  []string `json:"input_names,omitempty"`
	OutputNames []string `json:"output_names,omitempty"`

	// ImageRefs are URLs/ids of reference images mentioned in the prompt.
	ImageRefs []string `json:"image_refs,omitempty"`
}
