package params

import (
	"fmt"
	"sync"
	"time"
)

// Parameter names recognized by the backend request schema. The generic Set
// accepts unknown names too, but known names are type-checked at this boundary.
const (
	KeyText             = "Text"
	KeyVoiceType        = "VoiceType"
	KeyVolume           = "Volume"
	KeySpeed            = "Speed"
	KeySampleRate       = "SampleRate"
	KeyCodec            = "Codec"
	KeyEnableSubtitle   = "EnableSubtitle"
	KeyEmotionCategory  = "EmotionCategory"
	KeyEmotionIntensity = "EmotionIntensity"
	KeySegmentRate      = "SegmentRate"
	KeyProjectID        = "ProjectId"
	KeyPrimaryLanguage  = "PrimaryLanguage"
)

// Codecs supported by the backend. PCM payloads cannot be played back without
// a container, the playback queue will still accept them.
const (
	CodecMP3 = "mp3"
	CodecWAV = "wav"
	CodecPCM = "pcm"
)

func ValidCodec(codec string) bool {
	switch codec {
	case CodecMP3, CodecWAV, CodecPCM:
		return true
	}
	return false
}

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindFloat
	kindBool
)

var schema = map[string]valueKind{
	KeyText:             kindString,
	KeyVoiceType:        kindInt,
	KeyVolume:           kindFloat,
	KeySpeed:            kindFloat,
	KeySampleRate:       kindInt,
	KeyCodec:            kindString,
	KeyEnableSubtitle:   kindBool,
	KeyEmotionCategory:  kindString,
	KeyEmotionIntensity: kindInt,
	KeySegmentRate:      kindInt,
	KeyProjectID:        kindInt,
	KeyPrimaryLanguage:  kindInt,
}

// Bag holds the named synthesis parameters for a request. Assigning a nil
// value removes a previously set parameter. Safe for concurrent use.
type Bag struct {
	mu     sync.RWMutex
	values map[string]any
	region string
}

func NewBag() *Bag {
	return &Bag{
		values: map[string]any{
			KeyVoiceType:       1001,
			KeyVolume:          float64(0),
			KeySpeed:           float64(0),
			KeySampleRate:      16000,
			KeyCodec:           CodecMP3,
			KeyPrimaryLanguage: 1,
			KeyProjectID:       0,
		},
		region: "ap-shanghai",
	}
}

// Set assigns a parameter. A nil value removes the parameter. Known names are
// validated against the schema; unknown names pass through untouched.
func (b *Bag) Set(key string, value any) error {
	if key == "" {
		return fmt.Errorf("parameter name must not be empty")
	}
	if value == nil {
		b.Remove(key)
		return nil
	}
	if kind, known := schema[key]; known {
		if err := checkKind(key, kind, value); err != nil {
			return err
		}
	}
	b.mu.Lock()
	b.values[key] = value
	b.mu.Unlock()
	return nil
}

func checkKind(key string, kind valueKind, value any) error {
	switch kind {
	case kindString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("parameter %s requires a string, got %T", key, value)
		}
		if key == KeyCodec && !ValidCodec(value.(string)) {
			return fmt.Errorf("parameter %s: unsupported codec %q", key, value)
		}
	case kindInt:
		switch value.(type) {
		case int, int32, int64:
		default:
			return fmt.Errorf("parameter %s requires an integer, got %T", key, value)
		}
	case kindFloat:
		switch value.(type) {
		case float32, float64, int:
		default:
			return fmt.Errorf("parameter %s requires a number, got %T", key, value)
		}
	case kindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("parameter %s requires a bool, got %T", key, value)
		}
	}
	return nil
}

func (b *Bag) SetString(key, value string) error { return b.Set(key, value) }
func (b *Bag) SetInt(key string, value int) error {
	return b.Set(key, value)
}
func (b *Bag) SetFloat(key string, value float64) error { return b.Set(key, value) }
func (b *Bag) SetBool(key string, value bool) error     { return b.Set(key, value) }

func (b *Bag) Remove(key string) {
	b.mu.Lock()
	delete(b.values, key)
	b.mu.Unlock()
}

func (b *Bag) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, ok
}

// Snapshot copies the current parameter set. Requests bind a snapshot so the
// bag can keep changing for later requests.
func (b *Bag) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

// Clone makes an independent copy, for per-request overrides that must not
// leak back into the shared bag.
func (b *Bag) Clone() *Bag {
	b.mu.RLock()
	defer b.mu.RUnlock()
	values := make(map[string]any, len(b.values))
	for k, v := range b.values {
		values[k] = v
	}
	return &Bag{values: values, region: b.region}
}

func (b *Bag) SetRegion(region string) {
	b.mu.Lock()
	b.region = region
	b.mu.Unlock()
}

func (b *Bag) Region() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.region
}

// Convenience setters mirroring the common voice controls.

func (b *Bag) SetVoiceType(voiceType int) error       { return b.SetInt(KeyVoiceType, voiceType) }
func (b *Bag) SetVoiceSpeed(speed float64) error      { return b.SetFloat(KeySpeed, speed) }
func (b *Bag) SetVoiceVolume(volume float64) error    { return b.SetFloat(KeyVolume, volume) }
func (b *Bag) SetPrimaryLanguage(language int) error  { return b.SetInt(KeyPrimaryLanguage, language) }
func (b *Bag) SetCodec(codec string) error            { return b.SetString(KeyCodec, codec) }
func (b *Bag) SetSampleRate(rate int) error           { return b.SetInt(KeySampleRate, rate) }
func (b *Bag) SetProjectID(projectID int) error       { return b.SetInt(KeyProjectID, projectID) }
func (b *Bag) SetEnableSubtitle(enabled bool) error   { return b.SetBool(KeyEnableSubtitle, enabled) }
func (b *Bag) SetSegmentRate(rate int) error          { return b.SetInt(KeySegmentRate, rate) }
func (b *Bag) SetEmotionCategory(category string) error {
	return b.SetString(KeyEmotionCategory, category)
}
func (b *Bag) SetEmotionIntensity(intensity int) error { return b.SetInt(KeyEmotionIntensity, intensity) }

const (
	MinConnectTimeout = 500 * time.Millisecond
	MaxConnectTimeout = 30 * time.Second
	MinRequestTimeout = 2200 * time.Millisecond
	MaxRequestTimeout = 60 * time.Second

	DefaultConnectTimeout  = 10 * time.Second
	DefaultRequestTimeout  = 15 * time.Second
	DefaultResourceTimeout = 30 * time.Second
)

// Timeouts bounds the network waits of a request. Values are clamped into the
// documented ranges when the configuration is built, not at call time.
type Timeouts struct {
	Connect  time.Duration
	Request  time.Duration
	Resource time.Duration
}

func (t Timeouts) Normalize() Timeouts {
	t.Connect = clamp(t.Connect, MinConnectTimeout, MaxConnectTimeout, DefaultConnectTimeout)
	t.Request = clamp(t.Request, MinRequestTimeout, MaxRequestTimeout, DefaultRequestTimeout)
	t.Resource = clamp(t.Resource, MinRequestTimeout, MaxRequestTimeout, DefaultResourceTimeout)
	return t
}

func clamp(v, lo, hi, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
