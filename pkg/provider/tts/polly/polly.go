// Package polly provides an Amazon Polly TTS provider. Polly is asked for raw
// PCM output at 16 kHz, which is already 16-bit little-endian mono and needs
// no decoding.
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"

	"github.com/MrWong99/callcoach/pkg/provider/tts"
)

const (
	defaultRegion     = "us-east-1"
	defaultVoice      = "Joanna"
	defaultSampleRate = "16000"
)

// Client is the subset of the Polly API used by [Provider]. *polly.Client
// satisfies it.
type Client interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
	DescribeVoices(ctx context.Context, params *polly.DescribeVoicesInput, optFns ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
}

// Option is a functional option for configuring the Polly Provider.
type Option func(*Provider)

// WithRegion sets the AWS region. Ignored when WithClient is used.
func WithRegion(region string) Option {
	return func(p *Provider) {
		p.region = region
	}
}

// WithEngine selects "neural" (default) or "standard".
func WithEngine(engine string) Option {
	return func(p *Provider) {
		p.engine = engine
	}
}

// WithDefaultVoice sets the voice used when a request names none.
func WithDefaultVoice(id string) Option {
	return func(p *Provider) {
		p.defaultVoice = id
	}
}

// WithClient injects a Polly client instead of loading the default AWS
// configuration.
func WithClient(c Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// Provider implements tts.Provider backed by Amazon Polly.
type Provider struct {
	region       string
	engine       string
	defaultVoice string

	mu     sync.Mutex
	client Client
}

// New creates a Polly provider. The AWS client is created lazily from the
// default credential chain on first use unless one is injected.
func New(opts ...Option) *Provider {
	p := &Provider{
		region:       defaultRegion,
		engine:       "neural",
		defaultVoice: defaultVoice,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Synthesis, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Synthesis{}, tts.ErrEmptyText
	}
	client, err := p.resolveClient(ctx)
	if err != nil {
		return tts.Synthesis{}, err
	}

	voiceID := voice.ID
	if voiceID == "" {
		voiceID = p.defaultVoice
	}
	engine := pollytypes.EngineStandard
	if strings.EqualFold(p.engine, "neural") {
		engine = pollytypes.EngineNeural
	}
	rate := defaultSampleRate

	out, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatPcm,
		SampleRate:   &rate,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(voiceID),
	})
	if err != nil {
		return tts.Synthesis{}, fmt.Errorf("polly: synthesize: %w", err)
	}
	if out == nil || out.AudioStream == nil {
		return tts.Synthesis{}, errors.New("polly: synthesize: empty audio stream")
	}
	defer out.AudioStream.Close()

	pcm, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return tts.Synthesis{}, fmt.Errorf("polly: read audio: %w", err)
	}
	chars := int(out.RequestCharacters)
	if chars == 0 {
		chars = utf8.RuneCountInString(text)
	}
	return tts.Synthesis{Audio: pcm, Characters: chars}, nil
}

// SynthesizeStream implements [tts.Provider] by synthesising each text
// fragment with a separate request as it arrives.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if _, err := p.resolveClient(ctx); err != nil {
		return nil, err
	}
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for {
			select {
			case frag, ok := <-text:
				if !ok {
					return
				}
				if strings.TrimSpace(frag) == "" {
					continue
				}
				res, err := p.Synthesize(ctx, frag, voice)
				if err != nil {
					return
				}
				select {
				case out <- res.Audio:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ListVoices implements [tts.Provider].
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	client, err := p.resolveClient(ctx)
	if err != nil {
		return nil, err
	}
	var voices []tts.VoiceProfile
	var next *string
	for {
		out, err := client.DescribeVoices(ctx, &polly.DescribeVoicesInput{NextToken: next})
		if err != nil {
			return nil, fmt.Errorf("polly: describe voices: %w", err)
		}
		for _, v := range out.Voices {
			voices = append(voices, toProfile(v))
		}
		if out.NextToken == nil || *out.NextToken == "" {
			return voices, nil
		}
		next = out.NextToken
	}
}

func toProfile(v pollytypes.Voice) tts.VoiceProfile {
	meta := map[string]string{"language": string(v.LanguageCode)}
	if v.LanguageName != nil {
		meta["language_name"] = *v.LanguageName
	}
	name := string(v.Id)
	if v.Name != nil {
		name = *v.Name
	}
	return tts.VoiceProfile{
		ID:       string(v.Id),
		Name:     name,
		Provider: "polly",
		Gender:   strings.ToLower(string(v.Gender)),
		Metadata: meta,
	}
}

func (p *Provider) resolveClient(ctx context.Context) (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
	if err != nil {
		return nil, fmt.Errorf("polly: load aws config: %w", err)
	}
	p.client = polly.NewFromConfig(awsCfg)
	return p.client, nil
}

var _ tts.Provider = (*Provider)(nil)
