// Package voice resolves named voices to fully populated synthesis request
// templates. The default voice comes from configuration; further voices can
// be loaded from a YAML profile file and override any part of the default.
package voice

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lexiqai/tts-gateway/internal/config"
	"github.com/lexiqai/tts-gateway/internal/synthesis"
)

// DefaultVoice is the name of the configured voice
const DefaultVoice = "default"

// ErrUnknownVoice is returned for a voice name with no profile
var ErrUnknownVoice = errors.New("unknown voice")

// DecodingOverrides holds optional replacements for the default decoding
// parameters. Unset fields keep the default.
type DecodingOverrides struct {
	TopK              *int     `yaml:"top_k"`
	TopP              *float64 `yaml:"top_p"`
	Temperature       *float64 `yaml:"temperature"`
	SpeedFactor       *float64 `yaml:"speed_factor"`
	TextSplitMethod   *string  `yaml:"text_split_method"`
	BatchSize         *int     `yaml:"batch_size"`
	BatchThreshold    *float64 `yaml:"batch_threshold"`
	SplitBucket       *bool    `yaml:"split_bucket"`
	FragmentInterval  *float64 `yaml:"fragment_interval"`
	Seed              *int     `yaml:"seed"`
	MediaType         *string  `yaml:"media_type"`
	StreamingMode     *bool    `yaml:"streaming_mode"`
	ParallelInfer     *bool    `yaml:"parallel_infer"`
	RepetitionPenalty *float64 `yaml:"repetition_penalty"`
	SampleSteps       *int     `yaml:"sample_steps"`
	SuperSampling     *bool    `yaml:"super_sampling"`
	OverlapLength     *int     `yaml:"overlap_length"`
	MinChunkLength    *int     `yaml:"min_chunk_length"`
}

// Profile is one named voice as written in the profile file
type Profile struct {
	TextLang         string            `yaml:"text_lang"`
	PromptLang       string            `yaml:"prompt_lang"`
	PromptText       string            `yaml:"prompt_text"`
	RefAudioPath     string            `yaml:"ref_audio_path"`
	AuxRefAudioPaths []string          `yaml:"aux_ref_audio_paths"`
	Decoding         DecodingOverrides `yaml:"decoding"`
}

type profileFile struct {
	Voices map[string]Profile `yaml:"voices"`
}

// Registry maps voice names to request templates. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]synthesis.Request
}

// NewRegistry creates a registry whose default voice is def. def must be a
// valid template.
func NewRegistry(def synthesis.Request) (*Registry, error) {
	if err := def.ValidateTemplate(); err != nil {
		return nil, fmt.Errorf("default voice: %w", err)
	}
	return &Registry{
		templates: map[string]synthesis.Request{DefaultVoice: def},
	}, nil
}

// FromConfig builds the default voice template from configuration
func FromConfig(cfg *config.Config) synthesis.Request {
	return synthesis.Request{
		TextLang:      cfg.TTSTextLang,
		RefAudioPaths: cfg.RefAudioPaths(),
		PromptLang:    cfg.TTSPromptLang,
		PromptText:    cfg.TTSPromptText,
		Decoding: synthesis.DecodingParams{
			TopK:              cfg.TTSTopK,
			TopP:              cfg.TTSTopP,
			Temperature:       cfg.TTSTemperature,
			SpeedFactor:       cfg.TTSSpeedFactor,
			TextSplitMethod:   cfg.TTSTextSplitMethod,
			BatchSize:         cfg.TTSBatchSize,
			BatchThreshold:    cfg.TTSBatchThreshold,
			SplitBucket:       cfg.TTSSplitBucket,
			FragmentInterval:  cfg.TTSFragmentInterval,
			Seed:              cfg.TTSSeed,
			MediaType:         cfg.TTSMediaType,
			StreamingMode:     cfg.TTSStreamingMode,
			ParallelInfer:     cfg.TTSParallelInfer,
			RepetitionPenalty: cfg.TTSRepetitionPenalty,
			SampleSteps:       cfg.TTSSampleSteps,
			SuperSampling:     cfg.TTSSuperSampling,
			OverlapLength:     cfg.TTSOverlapLength,
			MinChunkLength:    cfg.TTSMinChunkLength,
		},
	}
}

// LoadFile reads a YAML profile file and adds its voices
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read voice profiles: %w", err)
	}
	return r.Load(data)
}

// Load parses YAML profiles and adds them. Either every voice in data is
// added or none is.
func (r *Registry) Load(data []byte) error {
	return r.load(data, false)
}

// Reload replaces every named voice with the profiles in data. The default
// voice is kept. On error the registry is unchanged.
func (r *Registry) Reload(data []byte) error {
	return r.load(data, true)
}

func (r *Registry) load(data []byte, replace bool) error {
	var file profileFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse voice profiles: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	def := r.templates[DefaultVoice]
	built := make(map[string]synthesis.Request, len(file.Voices)+1)
	for name, p := range file.Voices {
		if name == "" || name == DefaultVoice {
			return fmt.Errorf("voice profile name %q is reserved", name)
		}
		if p.RefAudioPath == "" && len(p.AuxRefAudioPaths) > 0 {
			return fmt.Errorf("voice %q: %w: aux_ref_audio_paths requires ref_audio_path", name, synthesis.ErrInvalidInput)
		}
		tmpl := p.apply(def)
		if err := tmpl.ValidateTemplate(); err != nil {
			return fmt.Errorf("voice %q: %w", name, err)
		}
		built[name] = tmpl
	}

	if replace {
		built[DefaultVoice] = def
		r.templates = built
		return nil
	}
	for name, tmpl := range built {
		r.templates[name] = tmpl
	}
	return nil
}

// Template returns the request template for a voice. An empty name selects
// the default voice. The result is a copy.
func (r *Registry) Template(name string) (synthesis.Request, error) {
	if name == "" {
		name = DefaultVoice
	}
	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return synthesis.Request{}, fmt.Errorf("%w: %q", ErrUnknownVoice, name)
	}
	return tmpl.WithText(""), nil
}

// Names returns all voice names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p Profile) apply(def synthesis.Request) synthesis.Request {
	out := def.WithText("")
	if p.TextLang != "" {
		out.TextLang = p.TextLang
	}
	if p.PromptLang != "" {
		out.PromptLang = p.PromptLang
	}
	if p.PromptText != "" {
		out.PromptText = p.PromptText
	}
	if p.RefAudioPath != "" {
		out.RefAudioPaths = append([]string{p.RefAudioPath}, p.AuxRefAudioPaths...)
	}
	p.Decoding.apply(&out.Decoding)
	return out
}

func (o DecodingOverrides) apply(d *synthesis.DecodingParams) {
	set(&d.TopK, o.TopK)
	set(&d.TopP, o.TopP)
	set(&d.Temperature, o.Temperature)
	set(&d.SpeedFactor, o.SpeedFactor)
	set(&d.TextSplitMethod, o.TextSplitMethod)
	set(&d.BatchSize, o.BatchSize)
	set(&d.BatchThreshold, o.BatchThreshold)
	set(&d.SplitBucket, o.SplitBucket)
	set(&d.FragmentInterval, o.FragmentInterval)
	set(&d.Seed, o.Seed)
	set(&d.MediaType, o.MediaType)
	set(&d.StreamingMode, o.StreamingMode)
	set(&d.ParallelInfer, o.ParallelInfer)
	set(&d.RepetitionPenalty, o.RepetitionPenalty)
	set(&d.SampleSteps, o.SampleSteps)
	set(&d.SuperSampling, o.SuperSampling)
	set(&d.OverlapLength, o.OverlapLength)
	set(&d.MinChunkLength, o.MinChunkLength)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
