package validation

import (
	"strings"
	"time"

	"github.com/your-org/packageflow/pkg/storage/objectstore"
)

// Policy defaults.
const (
	DefaultMaxFileSizeBytes  = 1 << 30 // 1 GiB
	DefaultRequiredExtension = ".zip"
)

// Failure reasons. Short and machine-readable; these are the only
// validation detail ever surfaced to callers.
const (
	ReasonMissingOrganization      = "MissingOrganization"
	ReasonUnauthorizedOrganization = "UnauthorizedOrganization"
	ReasonInvalidExtension         = "InvalidExtension"
	ReasonEmptyFile                = "EmptyFile"
	ReasonFileTooLarge             = "FileTooLarge"
)

// Policy is the organizational upload policy evaluated against every
// archive.
type Policy struct {
	AllowedOrganizationIDs map[string]struct{}
	MaxFileSizeBytes       int64
	RequiredExtension      string
}

// NewPolicy builds a Policy from configuration, filling defaults for
// unset limits.
func NewPolicy(allowedOrgIDs []string, maxFileSizeBytes int64, requiredExtension string) Policy {
	allowed := make(map[string]struct{}, len(allowedOrgIDs))
	for _, id := range allowedOrgIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			allowed[id] = struct{}{}
		}
	}
	if maxFileSizeBytes <= 0 {
		maxFileSizeBytes = DefaultMaxFileSizeBytes
	}
	if requiredExtension == "" {
		requiredExtension = DefaultRequiredExtension
	}
	return Policy{
		AllowedOrganizationIDs: allowed,
		MaxFileSizeBytes:       maxFileSizeBytes,
		RequiredExtension:      requiredExtension,
	}
}

// FileMetadata is the policy-relevant snapshot carried on a passing
// outcome.
type FileMetadata struct {
	SizeBytes    int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
}

// Outcome is the result of policy evaluation. FailureReason is set if
// and only if Passed is false.
type Outcome struct {
	OrganizationID string
	Passed         bool
	FailureReason  string
	FileMetadata   FileMetadata
}

func fail(orgID, reason string) Outcome {
	return Outcome{OrganizationID: orgID, FailureReason: reason}
}

// Validate evaluates the policy against one object. Pure and
// side-effect-free; checks run in order and stop at the first failure.
func Validate(key string, meta objectstore.ObjectMetadata, tags map[string]string, policy Policy) Outcome {
	orgID := resolveOrganization(tags, meta.UserMetadata)
	if orgID == "" {
		return fail("", ReasonMissingOrganization)
	}

	if _, ok := policy.AllowedOrganizationIDs[orgID]; !ok {
		return fail(orgID, ReasonUnauthorizedOrganization)
	}

	if !strings.HasSuffix(strings.ToLower(key), strings.ToLower(policy.RequiredExtension)) {
		return fail(orgID, ReasonInvalidExtension)
	}

	if meta.SizeBytes <= 0 {
		return fail(orgID, ReasonEmptyFile)
	}

	if meta.SizeBytes > policy.MaxFileSizeBytes {
		return fail(orgID, ReasonFileTooLarge)
	}

	return Outcome{
		OrganizationID: orgID,
		Passed:         true,
		FileMetadata: FileMetadata{
			SizeBytes:    meta.SizeBytes,
			ContentType:  meta.ContentType,
			LastModified: meta.LastModified,
		},
	}
}

// resolveOrganization tries an ordered list of lookup strategies for
// the organization id. Object tags win over user metadata when both
// carry one; the casings are the ones upload clients are known to use.
func resolveOrganization(tags, userMetadata map[string]string) string {
	lookups := []struct {
		source map[string]string
		key    string
	}{
		{tags, "organization-id"},
		{tags, "OrganizationId"},
		{userMetadata, "organization-id"},
		{userMetadata, "organizationid"},
	}
	for _, l := range lookups {
		if v := l.source[l.key]; v != "" {
			return v
		}
	}
	return ""
}
