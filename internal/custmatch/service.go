package custmatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aurora-erp/aurora-sync/internal/shared"
	"github.com/aurora-erp/aurora-sync/internal/smartbill"
)

// DefaultProvider names the remote accounting service in the link store.
const DefaultProvider = "smartbill"

const maxCandidates = 5

// Service runs identity matching and the periodic customer sync.
type Service struct {
	links     LinkRepositoryPort
	customers CustomerPort
	remote    RemotePort
	events    shared.EventPublisher
	logger    *slog.Logger
	provider  string
	now       func() time.Time
}

// NewService builds Service.
func NewService(links LinkRepositoryPort, customers CustomerPort, remote RemotePort, events shared.EventPublisher, logger *slog.Logger) *Service {
	if events == nil {
		events = shared.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		links:     links,
		customers: customers,
		remote:    remote,
		events:    events,
		logger:    logger,
		provider:  DefaultProvider,
		now:       time.Now,
	}
}

// FindMatches scores the external identity against every local customer and
// returns up to 5 candidates with a positive score, best first. Ordering is
// deterministic: score descending, then customer id ascending.
func (s *Service) FindMatches(ctx context.Context, ext ExternalIdentity) ([]MatchCandidate, error) {
	locals, err := s.customers.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("custmatch: list customers: %w", err)
	}

	var candidates []MatchCandidate
	for _, local := range locals {
		score, reasons := Score(ext, local)
		if score == 0 {
			continue
		}
		candidates = append(candidates, MatchCandidate{
			Customer:   local,
			Score:      score,
			Confidence: BandFor(score),
			Reasons:    reasons,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Customer.ID < candidates[j].Customer.ID
	})
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return candidates, nil
}

// AutoMatchSuggestion returns the top candidate when its confidence is high,
// nil otherwise.
func (s *Service) AutoMatchSuggestion(ctx context.Context, ext ExternalIdentity) (*MatchCandidate, error) {
	candidates, err := s.FindMatches(ctx, ext)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 || candidates[0].Score < AutoLinkThreshold {
		return nil, nil
	}
	return &candidates[0], nil
}

// AutoLinkItem describes one considered link in an auto-link run.
type AutoLinkItem struct {
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	Action     string `json:"action"`
	CustomerID int64  `json:"customerId,omitempty"`
	Score      int    `json:"score,omitempty"`
}

// AutoLinkResult summarises an auto-link run.
type AutoLinkResult struct {
	DryRun  bool           `json:"dryRun"`
	Linked  int            `json:"linked"`
	Skipped int            `json:"skipped"`
	Items   []AutoLinkItem `json:"items"`
}

// AutoLinkHighConfidence walks every unlinked external identity and applies
// the top high-confidence match. With dryRun the run reports what it would
// have done without persisting anything.
func (s *Service) AutoLinkHighConfidence(ctx context.Context, dryRun bool) (AutoLinkResult, error) {
	result := AutoLinkResult{DryRun: dryRun}

	unlinked, err := s.links.ListUnlinked(ctx, s.provider)
	if err != nil {
		return result, fmt.Errorf("custmatch: list unlinked: %w", err)
	}

	for i := range unlinked {
		link := &unlinked[i]
		suggestion, err := s.AutoMatchSuggestion(ctx, link.Identity)
		if err != nil {
			return result, err
		}
		item := AutoLinkItem{ExternalID: link.ExternalID, Name: link.Identity.Name}
		if suggestion == nil {
			item.Action = "skipped"
			result.Skipped++
			result.Items = append(result.Items, item)
			continue
		}

		item.CustomerID = suggestion.Customer.ID
		item.Score = suggestion.Score
		if dryRun {
			item.Action = "would-link"
		} else {
			customerID := suggestion.Customer.ID
			link.LocalCustomerID = &customerID
			link.Status = StatusSynced
			link.UpdatedAt = s.now()
			if err := s.links.Update(ctx, link); err != nil {
				return result, fmt.Errorf("custmatch: link %s: %w", link.ExternalID, err)
			}
			item.Action = "linked"
		}
		result.Linked++
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// SyncResult summarises one customer sync run.
type SyncResult struct {
	Observed  int `json:"observed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Matched   int `json:"matched"`
	Conflicts int `json:"conflicts"`
}

// SyncCustomers pulls the remote documents of a date range, extracts the
// deduplicated customer identities and upserts them into the link store.
// Existing links get their snapshot refreshed. New links attempt a tax-code
// then an email match against local customers; a tax-code match with a
// differing email is flagged as a conflict but still linked. Every new
// identity is inserted regardless of match outcome so unmatched ones stay
// visible for manual resolution.
func (s *Service) SyncCustomers(ctx context.Context, from, to time.Time) (SyncResult, error) {
	var result SyncResult

	docs, err := s.remote.ListInvoices(ctx, from, to)
	if err != nil {
		return result, fmt.Errorf("custmatch: list remote documents: %w", err)
	}

	identities := extractIdentities(docs)
	result.Observed = len(identities)

	for _, observed := range identities {
		existing, err := s.links.GetByExternalID(ctx, s.provider, observed.key)
		switch {
		case err == nil:
			existing.Identity = observed.identity
			existing.LastSyncedAt = s.now()
			existing.UpdatedAt = s.now()
			if err := s.links.Update(ctx, existing); err != nil {
				return result, fmt.Errorf("custmatch: refresh link %s: %w", observed.key, err)
			}
			result.Updated++
		case errors.Is(err, shared.ErrNotFound):
			link, matched, conflict, err := s.buildNewLink(ctx, observed)
			if err != nil {
				return result, err
			}
			if err := s.links.Insert(ctx, link); err != nil {
				return result, fmt.Errorf("custmatch: insert link %s: %w", observed.key, err)
			}
			result.Created++
			if matched {
				result.Matched++
			}
			if conflict {
				result.Conflicts++
			}
		default:
			return result, fmt.Errorf("custmatch: load link %s: %w", observed.key, err)
		}
	}

	s.publishCompleted(ctx, from, to, result)
	return result, nil
}

func (s *Service) buildNewLink(ctx context.Context, observed observedIdentity) (*ExternalLink, bool, bool, error) {
	link := &ExternalLink{
		Provider:     s.provider,
		ExternalID:   observed.key,
		Identity:     observed.identity,
		Status:       StatusPending,
		LastSyncedAt: s.now(),
		CreatedAt:    s.now(),
		UpdatedAt:    s.now(),
	}

	local, conflict, err := s.matchLocal(ctx, observed.identity)
	if err != nil {
		return nil, false, false, err
	}
	if local == nil {
		return link, false, false, nil
	}

	link.LocalCustomerID = &local.ID
	link.Status = StatusSynced
	if conflict {
		link.Conflict = fmt.Sprintf("email mismatch: remote %q vs local %q", observed.identity.Email, local.Email)
		s.logger.Warn("customer link conflict",
			slog.String("external_id", observed.key),
			slog.String("conflict", link.Conflict))
	}
	return link, true, conflict, nil
}

// matchLocal tries a tax-code match first, then an email match. The second
// return reports an email mismatch on a tax-code match.
func (s *Service) matchLocal(ctx context.Context, identity ExternalIdentity) (*LocalCustomer, bool, error) {
	if identity.TaxCode != "" {
		local, err := s.customers.FindByTaxCode(ctx, identity.TaxCode)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return nil, false, fmt.Errorf("custmatch: find by tax code: %w", err)
		}
		if local != nil {
			conflict := identity.Email != "" && local.Email != "" &&
				!strings.EqualFold(strings.TrimSpace(identity.Email), strings.TrimSpace(local.Email))
			return local, conflict, nil
		}
	}
	if identity.Email != "" {
		local, err := s.customers.FindByEmail(ctx, identity.Email)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return nil, false, fmt.Errorf("custmatch: find by email: %w", err)
		}
		if local != nil {
			return local, false, nil
		}
	}
	return nil, false, nil
}

type observedIdentity struct {
	key      string
	identity ExternalIdentity
}

// extractIdentities deduplicates document clients into an identity list
// keyed by tax code, falling back to the lower-cased name. Later documents
// win so the snapshot reflects the freshest data; output order follows first
// observation.
func extractIdentities(docs []smartbill.RemoteDocument) []observedIdentity {
	index := map[string]int{}
	var out []observedIdentity
	for _, doc := range docs {
		client := doc.Client
		key := strings.TrimSpace(client.VATCode)
		if key == "" {
			key = strings.ToLower(strings.TrimSpace(client.Name))
		}
		if key == "" {
			continue
		}
		identity := ExternalIdentity{
			Name:    strings.TrimSpace(client.Name),
			TaxCode: strings.TrimSpace(client.VATCode),
			Email:   strings.TrimSpace(client.Email),
			Phone:   strings.TrimSpace(client.Phone),
		}
		if pos, ok := index[key]; ok {
			out[pos].identity = identity
			continue
		}
		index[key] = len(out)
		out = append(out, observedIdentity{key: key, identity: identity})
	}
	return out
}

func (s *Service) publishCompleted(ctx context.Context, from, to time.Time, result SyncResult) {
	payload := struct {
		From      time.Time  `json:"from"`
		To        time.Time  `json:"to"`
		Result    SyncResult `json:"result"`
		Completed time.Time  `json:"completedAt"`
	}{From: from, To: to, Result: result, Completed: s.now()}

	if err := s.events.Publish(ctx, shared.EventCustomerSyncDone, payload); err != nil {
		s.logger.Warn("event publish failed",
			slog.String("event", shared.EventCustomerSyncDone), slog.Any("error", err))
	}
}
