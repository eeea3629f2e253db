package connector

// Definition is a connector loaded from YAML. It is immutable once loaded;
// template placeholders inside it are expanded at request-build time.
type Definition struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// BaseURL may contain templates (e.g. "https://{{ config.shop }}.example.com").
	BaseURL string `yaml:"base_url"`

	Auth AuthSpec `yaml:"auth"`
	HTTP HTTPSpec `yaml:"http"`

	// Default headers and query params applied to every stream request.
	Headers map[string]string `yaml:"headers"`
	Params  map[string]string `yaml:"params"`

	Check *CheckSpec `yaml:"check"`

	// Config property specification, surfaced by the spec command.
	Spec map[string]PropertySpec `yaml:"spec"`

	Streams []StreamSpec `yaml:"streams"`
}

// Stream returns the stream with the given name, or nil.
func (d *Definition) Stream(name string) *StreamSpec {
	for i := range d.Streams {
		if d.Streams[i].Name == name {
			return &d.Streams[i]
		}
	}
	return nil
}

// PropertySpec describes one runtime config property.
type PropertySpec struct {
	Type        string `yaml:"type"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Secret      bool   `yaml:"secret"`
	Default     any    `yaml:"default"`
}

// CheckSpec is the connection probe executed by the check command.
type CheckSpec struct {
	Path         string            `yaml:"path"`
	Method       string            `yaml:"method"`
	Params       map[string]string `yaml:"params"`
	ExpectStatus int               `yaml:"expect_status"`
}

// StreamSpec defines one stream of a connector.
type StreamSpec struct {
	Name    string            `yaml:"name"`
	Path    string            `yaml:"path"`
	Method  string            `yaml:"method"`
	Params  map[string]string `yaml:"params"`
	Headers map[string]string `yaml:"headers"`
	Body    *BodySpec         `yaml:"body"`

	Decoder    DecoderSpec `yaml:"decoder"`
	RecordPath string      `yaml:"record_path"`
	PrimaryKey []string    `yaml:"primary_key"`

	CursorField string           `yaml:"cursor_field"`
	Incremental *IncrementalSpec `yaml:"incremental"`

	Pagination PaginationSpec `yaml:"pagination"`
	Partition  PartitionSpec  `yaml:"partition"`

	ErrorPolicy string `yaml:"error_policy"` // fail | skip | retry (default retry)
}

// BodySpec is a request body template. Content may be any YAML value; string
// leaves are template-expanded before the request is sent.
type BodySpec struct {
	Type    string `yaml:"type"` // json (default) | form
	Content any    `yaml:"content"`
}

// DecoderSpec selects the response decoder.
type DecoderSpec struct {
	Type          string `yaml:"type"` // json (default) | jsonl | csv | xml
	RecordElement string `yaml:"record_element"`
	Delimiter     string `yaml:"delimiter"`
}

// IncrementalSpec configures incremental request shaping and cursor ordering.
type IncrementalSpec struct {
	CursorParam     string `yaml:"cursor_param"`
	CursorFormat    string `yaml:"cursor_format"` // iso8601 | unix | unix_ms | string
	LookbackSeconds int64  `yaml:"lookback_seconds"`
}

// PaginationSpec is the closed set of pagination variants, discriminated by Type.
type PaginationSpec struct {
	Type string `yaml:"type"` // none (default) | cursor | offset | page_number | link_header | next_url

	// cursor
	CursorParam string `yaml:"cursor_param"`
	CursorPath  string `yaml:"cursor_path"`

	// offset
	OffsetParam string `yaml:"offset_param"`
	LimitParam  string `yaml:"limit_param"`
	LimitValue  int    `yaml:"limit_value"`

	// page_number
	PageParam     string `yaml:"page_param"`
	StartPage     int    `yaml:"start_page"`
	PageSizeParam string `yaml:"page_size_param"`
	PageSize      int    `yaml:"page_size"`

	// link_header
	Rel string `yaml:"rel"`

	// next_url
	Path string `yaml:"path"`

	StopCondition *StopConditionSpec `yaml:"stop_condition"`
}

// StopConditionSpec terminates pagination.
type StopConditionSpec struct {
	Type  string `yaml:"type"` // empty_page (default) | field | total_count | total_pages
	Path  string `yaml:"path"`
	Value any    `yaml:"value"`
}

// PartitionSpec is the closed set of partition routing variants.
type PartitionSpec struct {
	Type string `yaml:"type"` // none (default) | list | datetime | parent_stream | async_job

	// list
	Values         []string `yaml:"values"`
	PartitionField string   `yaml:"partition_field"`

	// datetime
	Start      string `yaml:"start"`
	End        string `yaml:"end"`
	Step       string `yaml:"step"` // ISO-8601 duration, e.g. P1D, PT6H
	Format     string `yaml:"format"`
	StartParam string `yaml:"start_param"`
	EndParam   string `yaml:"end_param"`

	// parent_stream
	ParentStream string `yaml:"parent_stream"`
	ParentKey    string `yaml:"parent_key"`

	// async_job
	AsyncJob *AsyncJobSpec `yaml:"async_job"`
}

// IsZero reports whether no partitioning was configured.
func (p PartitionSpec) IsZero() bool {
	return p.Type == "" || p.Type == PartitionNone
}

// AsyncJobSpec configures the create/poll/download job machine.
type AsyncJobSpec struct {
	Create   AsyncJobCreateSpec   `yaml:"create"`
	Poll     AsyncJobPollSpec     `yaml:"poll"`
	Download AsyncJobDownloadSpec `yaml:"download"`
}

// AsyncJobCreateSpec issues the job-creation request.
type AsyncJobCreateSpec struct {
	Path      string            `yaml:"path"`
	Method    string            `yaml:"method"`
	Body      any               `yaml:"body"`
	Headers   map[string]string `yaml:"headers"`
	JobIDPath string            `yaml:"job_id_path"`
}

// AsyncJobPollSpec polls job status until a terminal condition.
type AsyncJobPollSpec struct {
	Path            string         `yaml:"path"`
	IntervalSeconds int            `yaml:"interval_seconds"`
	MaxAttempts     int            `yaml:"max_attempts"`
	StatusPath      string         `yaml:"status_path"`
	Completed       ConditionSpec  `yaml:"completed_condition"`
	Failed          *ConditionSpec `yaml:"failed_condition"`
}

// AsyncJobDownloadSpec fetches job results, either from a URL found in the
// final poll response (URLPath) or from a download endpoint.
type AsyncJobDownloadSpec struct {
	Path    string `yaml:"path"`
	URLPath string `yaml:"url_path"`
}

// ConditionSpec matches a set of values at a path.
type ConditionSpec struct {
	Values []string `yaml:"values"`
}

// HTTPSpec configures the HTTP executor.
type HTTPSpec struct {
	TimeoutSeconds        int            `yaml:"timeout_seconds"`
	ConnectTimeoutSeconds int            `yaml:"connect_timeout_seconds"`
	MaxRetries            int            `yaml:"max_retries"`
	RetryStatuses         []int          `yaml:"retry_statuses"`
	Backoff               BackoffSpec    `yaml:"retry_backoff"`
	RateLimit             RateLimitSpec  `yaml:"rate_limit"`
	UserAgent             string         `yaml:"user_agent"`
}

// BackoffSpec configures the retry schedule.
type BackoffSpec struct {
	Type       string  `yaml:"type"` // exponential (default) | constant | linear
	InitialMs  int64   `yaml:"initial_ms"`
	MaxMs      int64   `yaml:"max_ms"`
	Multiplier float64 `yaml:"multiplier"`
}

// RateLimitSpec configures the token-bucket limiter.
type RateLimitSpec struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	RespectHeaders    *bool   `yaml:"respect_headers"`
	RemainingHeader   string  `yaml:"remaining_header"`
	ResetHeader       string  `yaml:"reset_header"`
}

// AuthSpec is the closed set of authentication variants.
type AuthSpec struct {
	Type string `yaml:"type"` // none (default) | api_key | basic | bearer |
	// oauth2_client_credentials | oauth2_refresh | session | jwt | custom_headers

	// api_key
	Location   string `yaml:"location"` // header (default) | query
	HeaderName string `yaml:"header_name"`
	QueryParam string `yaml:"query_param"`
	Prefix     string `yaml:"prefix"`
	Value      string `yaml:"value"`

	// basic
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// bearer
	Token string `yaml:"token"`

	// oauth2_client_credentials / oauth2_refresh / jwt exchange
	TokenURL     string            `yaml:"token_url"`
	ClientID     string            `yaml:"client_id"`
	ClientSecret string            `yaml:"client_secret"`
	Scopes       []string          `yaml:"scopes"`
	TokenBody    map[string]string `yaml:"token_body"`
	RefreshToken string            `yaml:"refresh_token"`

	// session
	LoginURL      string            `yaml:"login_url"`
	LoginMethod   string            `yaml:"login_method"`
	LoginBody     map[string]string `yaml:"login_body"`
	TokenPath     string            `yaml:"token_path"`
	TokenHeader   string            `yaml:"token_header"`
	TokenPrefix   string            `yaml:"token_prefix"`
	ExpiresInPath string            `yaml:"expires_in_path"`

	// jwt
	Issuer               string            `yaml:"issuer"`
	Subject              string            `yaml:"subject"`
	Audience             string            `yaml:"audience"`
	PrivateKey           string            `yaml:"private_key"`
	Algorithm            string            `yaml:"algorithm"` // RS256 (default) | HS256
	TokenLifetimeSeconds int64             `yaml:"token_lifetime_seconds"`
	Claims               map[string]string `yaml:"claims"`

	// custom_headers
	Headers map[string]string `yaml:"headers"`
}

// Variant name constants. The sets are closed: adding a variant means adding
// a constant here, a validation arm, and the implementing type.
const (
	AuthNone              = "none"
	AuthAPIKey            = "api_key"
	AuthBasic             = "basic"
	AuthBearer            = "bearer"
	AuthOAuth2ClientCreds = "oauth2_client_credentials"
	AuthOAuth2Refresh     = "oauth2_refresh"
	AuthSession           = "session"
	AuthJWT               = "jwt"
	AuthCustomHeaders     = "custom_headers"

	PaginationNone       = "none"
	PaginationCursor     = "cursor"
	PaginationOffset     = "offset"
	PaginationPageNumber = "page_number"
	PaginationLinkHeader = "link_header"
	PaginationNextURL    = "next_url"

	PartitionNone         = "none"
	PartitionList         = "list"
	PartitionDatetime     = "datetime"
	PartitionParentStream = "parent_stream"
	PartitionAsyncJob     = "async_job"

	DecoderJSON  = "json"
	DecoderJSONL = "jsonl"
	DecoderCSV   = "csv"
	DecoderXML   = "xml"

	ErrorPolicyFail  = "fail"
	ErrorPolicySkip  = "skip"
	ErrorPolicyRetry = "retry"
)
