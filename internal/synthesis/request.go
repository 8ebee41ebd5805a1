package synthesis

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// AdvisoryTextLength is the text length, in code points, above which the
// backend's output quality degrades. Longer requests still go through but
// are reported; callers should pre-segment instead.
const AdvisoryTextLength = 500

// DecodingParams is the complete set of backend decoding knobs. Every field
// is sent on every call; the transport never fills in defaults.
type DecodingParams struct {
	TopK              int
	TopP              float64
	Temperature       float64
	SpeedFactor       float64
	TextSplitMethod   string
	BatchSize         int
	BatchThreshold    float64
	SplitBucket       bool
	FragmentInterval  float64
	Seed              int
	MediaType         string
	StreamingMode     bool
	ParallelInfer     bool
	RepetitionPenalty float64
	SampleSteps       int
	SuperSampling     bool
	OverlapLength     int
	MinChunkLength    int
}

// Validate rejects knobs whose zero value the backend would replace with
// its own default
func (p DecodingParams) Validate() error {
	switch {
	case p.TopK <= 0:
		return invalidInput("top_k must be positive")
	case p.TopP <= 0 || p.TopP > 1:
		return invalidInput("top_p must be in (0, 1]")
	case p.Temperature <= 0:
		return invalidInput("temperature must be positive")
	case p.SpeedFactor <= 0:
		return invalidInput("speed_factor must be positive")
	case p.BatchSize <= 0:
		return invalidInput("batch_size must be positive")
	case p.SampleSteps <= 0:
		return invalidInput("sample_steps must be positive")
	case p.TextSplitMethod == "":
		return invalidInput("text_split_method is required")
	case p.MediaType == "":
		return invalidInput("media_type is required")
	}
	return nil
}

// Request fully specifies one synthesis call. Build a new Request per call
// with WithText; a template is never mutated.
type Request struct {
	Text          string
	TextLang      string
	RefAudioPaths []string // first entry is the primary reference, the rest are auxiliary
	PromptLang    string
	PromptText    string
	Decoding      DecodingParams
}

// WithText returns a copy of r carrying text
func (r Request) WithText(text string) Request {
	out := r
	out.Text = text
	out.RefAudioPaths = slices.Clone(r.RefAudioPaths)
	return out
}

// Validate checks that r is complete enough to send
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return invalidInput("text is empty")
	}
	return r.ValidateTemplate()
}

// ValidateTemplate checks everything except the text
func (r Request) ValidateTemplate() error {
	if r.TextLang == "" {
		return invalidInput("text language is required")
	}
	if len(r.RefAudioPaths) == 0 || r.RefAudioPaths[0] == "" {
		return invalidInput("a reference audio path is required")
	}
	if r.PromptLang == "" {
		return invalidInput("prompt language is required")
	}
	return r.Decoding.Validate()
}

// ExceedsAdvisoryLength reports whether the text is longer than AdvisoryTextLength
func (r Request) ExceedsAdvisoryLength() bool {
	return utf8.RuneCountInString(r.Text) > AdvisoryTextLength
}

// wireRequest is the JSON body expected by the backend
type wireRequest struct {
	Text              string   `json:"text"`
	TextLang          string   `json:"text_lang"`
	RefAudioPath      string   `json:"ref_audio_path"`
	AuxRefAudioPaths  []string `json:"aux_ref_audio_paths,omitempty"`
	PromptLang        string   `json:"prompt_lang"`
	PromptText        string   `json:"prompt_text"`
	TopK              int      `json:"top_k"`
	TopP              float64  `json:"top_p"`
	Temperature       float64  `json:"temperature"`
	SpeedFactor       float64  `json:"speed_factor"`
	TextSplitMethod   string   `json:"text_split_method"`
	BatchSize         int      `json:"batch_size"`
	BatchThreshold    float64  `json:"batch_threshold"`
	SplitBucket       bool     `json:"split_bucket"`
	FragmentInterval  float64  `json:"fragment_interval"`
	Seed              int      `json:"seed"`
	MediaType         string   `json:"media_type"`
	StreamingMode     bool     `json:"streaming_mode"`
	ParallelInfer     bool     `json:"parallel_infer"`
	RepetitionPenalty float64  `json:"repetition_penalty"`
	SampleSteps       int      `json:"sample_steps"`
	SuperSampling     bool     `json:"super_sampling"`
	OverlapLength     int      `json:"overlap_length"`
	MinChunkLength    int      `json:"min_chunk_length"`
}

func (r Request) wire() wireRequest {
	d := r.Decoding
	return wireRequest{
		Text:              r.Text,
		TextLang:          r.TextLang,
		RefAudioPath:      r.RefAudioPaths[0],
		AuxRefAudioPaths:  r.RefAudioPaths[1:],
		PromptLang:        r.PromptLang,
		PromptText:        r.PromptText,
		TopK:              d.TopK,
		TopP:              d.TopP,
		Temperature:       d.Temperature,
		SpeedFactor:       d.SpeedFactor,
		TextSplitMethod:   d.TextSplitMethod,
		BatchSize:         d.BatchSize,
		BatchThreshold:    d.BatchThreshold,
		SplitBucket:       d.SplitBucket,
		FragmentInterval:  d.FragmentInterval,
		Seed:              d.Seed,
		MediaType:         d.MediaType,
		StreamingMode:     d.StreamingMode,
		ParallelInfer:     d.ParallelInfer,
		RepetitionPenalty: d.RepetitionPenalty,
		SampleSteps:       d.SampleSteps,
		SuperSampling:     d.SuperSampling,
		OverlapLength:     d.OverlapLength,
		MinChunkLength:    d.MinChunkLength,
	}
}
