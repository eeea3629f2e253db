package connector

import (
	"github.com/samber/lo"

	"github.com/restlake/restlake/internal/extract"
)

var validAuthTypes = []string{
	AuthNone, AuthAPIKey, AuthBasic, AuthBearer, AuthOAuth2ClientCreds,
	AuthOAuth2Refresh, AuthSession, AuthJWT, AuthCustomHeaders,
}

var validPaginationTypes = []string{
	PaginationNone, PaginationCursor, PaginationOffset, PaginationPageNumber,
	PaginationLinkHeader, PaginationNextURL,
}

var validPartitionTypes = []string{
	PartitionNone, PartitionList, PartitionDatetime, PartitionParentStream,
	PartitionAsyncJob,
}

var validDecoderTypes = []string{DecoderJSON, DecoderJSONL, DecoderCSV, DecoderXML}

var validErrorPolicies = []string{ErrorPolicyFail, ErrorPolicySkip, ErrorPolicyRetry}

func (d *Definition) validate() error {
	if d.Name == "" {
		return Errorf("connector name is required")
	}
	if d.BaseURL == "" {
		return Errorf("base_url is required")
	}
	if !lo.Contains(validAuthTypes, d.Auth.Type) {
		return Errorf("unknown auth type: %s", d.Auth.Type)
	}
	if err := d.Auth.validate(); err != nil {
		return err
	}

	names := map[string]bool{}
	for i := range d.Streams {
		s := &d.Streams[i]
		if s.Name == "" {
			return Errorf("stream name is required")
		}
		if names[s.Name] {
			return Errorf("duplicate stream name: %s", s.Name)
		}
		names[s.Name] = true

		if err := s.validate(); err != nil {
			return err
		}
	}

	return d.validateParents()
}

func (a *AuthSpec) validate() error {
	switch a.Type {
	case AuthAPIKey:
		if a.Value == "" {
			return Errorf("api_key auth requires value")
		}
	case AuthBasic:
		if a.Username == "" {
			return Errorf("basic auth requires username")
		}
	case AuthBearer:
		if a.Token == "" {
			return Errorf("bearer auth requires token")
		}
	case AuthOAuth2ClientCreds:
		if a.TokenURL == "" || a.ClientID == "" {
			return Errorf("oauth2_client_credentials requires token_url and client_id")
		}
	case AuthOAuth2Refresh:
		if a.TokenURL == "" || a.RefreshToken == "" {
			return Errorf("oauth2_refresh requires token_url and refresh_token")
		}
	case AuthSession:
		if a.LoginURL == "" || a.TokenPath == "" || a.TokenHeader == "" {
			return Errorf("session auth requires login_url, token_path and token_header")
		}
	case AuthJWT:
		if a.Issuer == "" || a.Audience == "" || a.PrivateKey == "" {
			return Errorf("jwt auth requires issuer, audience and private_key")
		}
	}
	return nil
}

func (s *StreamSpec) validate() error {
	if s.Path == "" && s.Partition.Type != PartitionAsyncJob {
		return Errorf("stream %s: path is required", s.Name)
	}
	if !lo.Contains(validDecoderTypes, s.Decoder.Type) {
		return Errorf("stream %s: unknown decoder type: %s", s.Name, s.Decoder.Type)
	}
	if s.Decoder.Type == DecoderXML && s.Decoder.RecordElement == "" {
		return Errorf("stream %s: xml decoder requires record_element", s.Name)
	}
	if !lo.Contains(validErrorPolicies, s.ErrorPolicy) {
		return Errorf("stream %s: unknown error_policy: %s", s.Name, s.ErrorPolicy)
	}

	if s.RecordPath != "" {
		if err := extract.ValidatePath(s.RecordPath); err != nil {
			return Errorf("stream %s: invalid record_path: %v", s.Name, err)
		}
	}

	if !lo.Contains(validPaginationTypes, s.Pagination.Type) {
		return Errorf("stream %s: unknown pagination type: %s", s.Name, s.Pagination.Type)
	}
	switch s.Pagination.Type {
	case PaginationCursor:
		if s.Pagination.CursorParam == "" || s.Pagination.CursorPath == "" {
			return Errorf("stream %s: cursor pagination requires cursor_param and cursor_path", s.Name)
		}
		if err := extract.ValidatePath(s.Pagination.CursorPath); err != nil {
			return Errorf("stream %s: invalid cursor_path: %v", s.Name, err)
		}
	case PaginationOffset:
		if s.Pagination.OffsetParam == "" || s.Pagination.LimitParam == "" || s.Pagination.LimitValue <= 0 {
			return Errorf("stream %s: offset pagination requires offset_param, limit_param and limit_value", s.Name)
		}
	case PaginationPageNumber:
		if s.Pagination.PageParam == "" {
			return Errorf("stream %s: page_number pagination requires page_param", s.Name)
		}
	case PaginationNextURL:
		if s.Pagination.Path == "" {
			return Errorf("stream %s: next_url pagination requires path", s.Name)
		}
		if err := extract.ValidatePath(s.Pagination.Path); err != nil {
			return Errorf("stream %s: invalid next_url path: %v", s.Name, err)
		}
	}
	if sc := s.Pagination.StopCondition; sc != nil && sc.Path != "" {
		if err := extract.ValidatePath(sc.Path); err != nil {
			return Errorf("stream %s: invalid stop_condition path: %v", s.Name, err)
		}
	}

	if !lo.Contains(validPartitionTypes, s.Partition.Type) {
		return Errorf("stream %s: unknown partition type: %s", s.Name, s.Partition.Type)
	}
	switch s.Partition.Type {
	case PartitionList:
		if len(s.Partition.Values) == 0 || s.Partition.PartitionField == "" {
			return Errorf("stream %s: list partition requires values and partition_field", s.Name)
		}
	case PartitionDatetime:
		if s.Partition.Start == "" || s.Partition.Step == "" {
			return Errorf("stream %s: datetime partition requires start and step", s.Name)
		}
		if s.Partition.StartParam == "" || s.Partition.EndParam == "" {
			return Errorf("stream %s: datetime partition requires start_param and end_param", s.Name)
		}
	case PartitionParentStream:
		if s.Partition.ParentStream == "" || s.Partition.ParentKey == "" || s.Partition.PartitionField == "" {
			return Errorf("stream %s: parent_stream partition requires parent_stream, parent_key and partition_field", s.Name)
		}
	case PartitionAsyncJob:
		job := s.Partition.AsyncJob
		if job == nil {
			return Errorf("stream %s: async_job partition requires async_job config", s.Name)
		}
		if job.Create.Path == "" || job.Poll.Path == "" {
			return Errorf("stream %s: async_job requires create and poll paths", s.Name)
		}
		if len(job.Poll.Completed.Values) == 0 {
			return Errorf("stream %s: async_job requires completed_condition values", s.Name)
		}
		if job.Download.Path == "" && job.Download.URLPath == "" {
			return Errorf("stream %s: async_job requires a download path or url_path", s.Name)
		}
	}

	if s.Incremental != nil {
		switch s.Incremental.CursorFormat {
		case "iso8601", "unix", "unix_ms", "string":
		default:
			return Errorf("stream %s: unknown cursor_format: %s", s.Name, s.Incremental.CursorFormat)
		}
		if s.CursorField == "" {
			return Errorf("stream %s: incremental requires cursor_field", s.Name)
		}
	}

	return nil
}

// validateParents checks that every parent_stream reference names a stream of
// this connector and that the parent graph is acyclic.
func (d *Definition) validateParents() error {
	parents := map[string]string{}
	for i := range d.Streams {
		s := &d.Streams[i]
		if s.Partition.Type != PartitionParentStream {
			continue
		}
		if d.Stream(s.Partition.ParentStream) == nil {
			return Errorf("stream %s: parent stream not found: %s", s.Name, s.Partition.ParentStream)
		}
		parents[s.Name] = s.Partition.ParentStream
	}

	// Walk each chain; with one parent edge per stream a cycle shows up as a
	// revisit before the walk terminates.
	for start := range parents {
		seen := map[string]bool{start: true}
		cur := start
		for {
			next, ok := parents[cur]
			if !ok {
				break
			}
			if seen[next] {
				return Errorf("parent stream cycle involving: %s", next)
			}
			seen[next] = true
			cur = next
		}
	}
	return nil
}

// SortedStreams returns the selected streams in dependency-respecting order:
// parents precede children, otherwise declaration order is kept. Parents of
// selected children are included even when not selected themselves; the
// returned set marks which streams were explicitly selected. A nil or empty
// selection selects every stream.
func (d *Definition) SortedStreams(selected []string) ([]*StreamSpec, map[string]bool, error) {
	explicit := map[string]bool{}
	if len(selected) == 0 {
		for i := range d.Streams {
			explicit[d.Streams[i].Name] = true
		}
	} else {
		for _, name := range selected {
			if d.Stream(name) == nil {
				return nil, nil, Errorf("unknown stream: %s", name)
			}
			explicit[name] = true
		}
	}

	// Augment with required parents (materialized for children only).
	include := map[string]bool{}
	for name := range explicit {
		include[name] = true
		cur := d.Stream(name)
		for cur.Partition.Type == PartitionParentStream {
			parent := d.Stream(cur.Partition.ParentStream)
			include[parent.Name] = true
			cur = parent
		}
	}

	// Declaration order already respects validation, but a child may be
	// declared before its parent; order by dependency depth, stable otherwise.
	var ordered []*StreamSpec
	emitted := map[string]bool{}
	var visit func(s *StreamSpec)
	visit = func(s *StreamSpec) {
		if emitted[s.Name] || !include[s.Name] {
			return
		}
		if s.Partition.Type == PartitionParentStream {
			visit(d.Stream(s.Partition.ParentStream))
		}
		emitted[s.Name] = true
		ordered = append(ordered, s)
	}
	for i := range d.Streams {
		visit(&d.Streams[i])
	}

	return ordered, explicit, nil
}
