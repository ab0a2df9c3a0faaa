package forensic

import (
	"time"

	"github.com/google/uuid"

	"github.com/caseprobe/discovery-cli/internal/model"
)

// TriadInput is everything needed to mint the raw/occurrence/derived
// records for one message read.
type TriadInput struct {
	RunID          string
	ArchiveLocator string
	FolderPath     string
	EmailID        string
	SourceHash     string

	HeadersBlob string
	BodyPlain   string
	BodyHTML    string
	BodyRTF     []byte

	BodySource       string
	CanonicalBody    string
	TopBody          string
	QuotedBody       string
	Signature        string
	ContentHash      string
	StrictHash       string
	RelaxedHash      string
	QuotedAnchorHash string

	NormalizerVersion string
	RulesetHash       string

	MinHopSecs *int64
	MaxHopSecs *int64
}

// Triad bundles the three records minted for one message read.
type Triad struct {
	Raw        model.MessageRaw
	Occurrence model.MessageOccurrence
	Derived    model.MessageDerived
}

// BuildTriad mints the append-only record triad. Record ids are fresh
// uuids; identity across runs comes from SourceHash, never from the row
// ids.
func BuildTriad(in TriadInput, now time.Time) Triad {
	return Triad{
		Raw: model.MessageRaw{
			ID:          uuid.NewString(),
			SourceHash:  in.SourceHash,
			RunID:       in.RunID,
			HeadersBlob: in.HeadersBlob,
			BodyPlain:   in.BodyPlain,
			BodyHTML:    in.BodyHTML,
			BodyRTF:     in.BodyRTF,
			ExtractedAt: now,
			ToolVersion: ToolVersion,
		},
		Occurrence: model.MessageOccurrence{
			ID:             uuid.NewString(),
			SourceHash:     in.SourceHash,
			RunID:          in.RunID,
			ArchiveLocator: in.ArchiveLocator,
			FolderPath:     in.FolderPath,
			EmailID:        in.EmailID,
			SeenAt:         now,
		},
		Derived: model.MessageDerived{
			ID:                uuid.NewString(),
			SourceHash:        in.SourceHash,
			RunID:             in.RunID,
			BodySource:        in.BodySource,
			CanonicalBody:     in.CanonicalBody,
			TopBody:           in.TopBody,
			QuotedBody:        in.QuotedBody,
			Signature:         in.Signature,
			ContentHash:       in.ContentHash,
			StrictHash:        in.StrictHash,
			RelaxedHash:       in.RelaxedHash,
			QuotedAnchorHash:  in.QuotedAnchorHash,
			NormalizerVersion: in.NormalizerVersion,
			RulesetHash:       in.RulesetHash,
			MinHopSecs:        in.MinHopSecs,
			MaxHopSecs:        in.MaxHopSecs,
			DerivedAt:         now,
		},
	}
}
