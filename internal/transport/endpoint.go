package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// EndpointProvider resolves the websocket URL and handshake headers for a
// new connection. Presigned URLs expire, so this is called on every Connect.
type EndpointProvider interface {
	Endpoint(ctx context.Context) (string, http.Header, error)
}

// StaticEndpoint is a fixed URL with optional headers (e.g. an API key)
type StaticEndpoint struct {
	URL    string
	Header http.Header
}

func (s StaticEndpoint) Endpoint(ctx context.Context) (string, http.Header, error) {
	if s.URL == "" {
		return "", nil, fmt.Errorf("endpoint url is empty")
	}
	return s.URL, s.Header.Clone(), nil
}

// NewStaticEndpoint builds a StaticEndpoint; a non-empty apiKey is sent as
// a bearer token
func NewStaticEndpoint(rawURL, apiKey string) StaticEndpoint {
	var header http.Header
	if apiKey != "" {
		header = http.Header{}
		header.Set("Authorization", "Bearer "+apiKey)
	}
	return StaticEndpoint{URL: rawURL, Header: header}
}

// emptyPayloadHash is the SHA-256 of an empty body
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// TranscribeParams are the query parameters of a streaming session
type TranscribeParams struct {
	Region       string
	LanguageCode string
	SampleRate   int
	Expires      time.Duration
}

// AWSPresigner produces SigV4 presigned Amazon Transcribe streaming URLs
type AWSPresigner struct {
	params      TranscribeParams
	credentials aws.CredentialsProvider
	signer      *v4.Signer
	now         func() time.Time
}

// NewAWSPresigner resolves credentials once. Static keys take precedence;
// otherwise the default chain (env, shared config, instance role) is used.
func NewAWSPresigner(ctx context.Context, params TranscribeParams, accessKeyID, secretAccessKey string) (*AWSPresigner, error) {
	if params.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(params.Region)}
	if accessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return newAWSPresigner(params, cfg.Credentials), nil
}

func newAWSPresigner(params TranscribeParams, provider aws.CredentialsProvider) *AWSPresigner {
	if params.Expires <= 0 {
		params.Expires = 5 * time.Minute
	}
	if params.LanguageCode == "" {
		params.LanguageCode = "en-US"
	}
	return &AWSPresigner{
		params:      params,
		credentials: provider,
		signer:      v4.NewSigner(),
		now:         time.Now,
	}
}

// Endpoint signs a fresh URL for the configured language and sample rate
func (p *AWSPresigner) Endpoint(ctx context.Context) (string, http.Header, error) {
	if p.credentials == nil {
		return "", nil, fmt.Errorf("no aws credentials configured")
	}
	creds, err := p.credentials.Retrieve(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to retrieve aws credentials: %w", err)
	}

	query := url.Values{}
	query.Set("language-code", p.params.LanguageCode)
	query.Set("media-encoding", "pcm")
	query.Set("sample-rate", strconv.Itoa(p.params.SampleRate))
	query.Set("X-Amz-Expires", strconv.Itoa(int(p.params.Expires.Seconds())))

	target := url.URL{
		Scheme:   "https",
		Host:     fmt.Sprintf("transcribestreaming.%s.amazonaws.com:8443", p.params.Region),
		Path:     "/stream-transcription-websocket",
		RawQuery: query.Encode(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to build presign request: %w", err)
	}

	signed, _, err := p.signer.PresignHTTP(ctx, creds, req, emptyPayloadHash, "transcribe", p.params.Region, p.now().UTC())
	if err != nil {
		return "", nil, fmt.Errorf("failed to presign transcribe url: %w", err)
	}

	return "wss" + strings.TrimPrefix(signed, "https"), nil, nil
}
