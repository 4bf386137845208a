package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/normativhq/normativ/internal/cache"
	"github.com/normativhq/normativ/internal/model"
)

// DocumentSource loads source documents for verification
type DocumentSource interface {
	GetDocument(ctx context.Context, id string) (model.SourceDocument, error)
}

// Verifier re-checks the evidence chain of a rule batch: every pointer's
// document must still exist, hash clean, and literally contain its quote.
// T0 and T1 rules get exact quote matching; T2/T3 may match the folded,
// HTML-stripped text instead.
type Verifier struct {
	docs       DocumentSource
	cache      cache.Cache
	cacheTTL   time.Duration
	maxWorkers int
}

// NewVerifier creates a verifier. A nil cache disables caching.
func NewVerifier(docs DocumentSource, c cache.Cache, maxWorkers int) *Verifier {
	if c == nil {
		c = cache.NoopCache{}
	}
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Verifier{
		docs:       docs,
		cache:      c,
		cacheTTL:   15 * time.Minute,
		maxWorkers: maxWorkers,
	}
}

type chainCheck struct {
	rule    model.Rule
	pointer model.SourcePointer
}

// VerifyChain validates every pointer of every rule. A transient store
// failure returns as-is; any chain breakage returns a single integrity
// violation naming each offending pointer.
func (v *Verifier) VerifyChain(ctx context.Context, rules []model.Rule) error {
	var checks []chainCheck
	for _, rule := range rules {
		for _, p := range rule.Pointers {
			checks = append(checks, chainCheck{rule: rule, pointer: p})
		}
	}
	if len(checks) == 0 {
		return nil
	}

	docs, missing, err := v.loadDocuments(ctx, checks)
	if err != nil {
		return err
	}

	failures := make([]string, len(checks))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, v.maxWorkers)

	for i, c := range checks {
		wg.Add(1)
		go func(idx int, c chainCheck) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				failures[idx] = fmt.Sprintf("pointer %s: %v", c.pointer.ID, ctx.Err())
				return
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			if missing[c.pointer.DocumentID] {
				failures[idx] = fmt.Sprintf("pointer %s: source document %s no longer exists", c.pointer.ID, c.pointer.DocumentID)
				return
			}
			failures[idx] = v.checkPointer(c, docs[c.pointer.DocumentID])
		}(i, c)
	}
	wg.Wait()

	var broken []string
	for _, f := range failures {
		if f != "" {
			broken = append(broken, f)
		}
	}
	if len(broken) == 0 {
		return nil
	}
	sort.Strings(broken)
	return model.NewIntegrityViolation("evidence-chain", "%d of %d pointers failed verification: %s",
		len(broken), len(checks), strings.Join(broken, "; "))
}

// loadDocuments fetches each distinct document once. Documents the store no
// longer has are reported per pointer, not as a load error.
func (v *Verifier) loadDocuments(ctx context.Context, checks []chainCheck) (map[string]model.SourceDocument, map[string]bool, error) {
	docs := make(map[string]model.SourceDocument)
	missing := make(map[string]bool)
	for _, c := range checks {
		id := c.pointer.DocumentID
		if _, ok := docs[id]; ok || missing[id] {
			continue
		}
		doc, err := v.docs.GetDocument(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			missing[id] = true
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		docs[id] = doc
	}
	return docs, missing, nil
}

// checkPointer returns an empty string on success, a failure description otherwise
func (v *Verifier) checkPointer(c chainCheck, doc model.SourceDocument) string {
	recomputed := sha256Hex(doc.Content)
	if doc.ContentHash != "" && recomputed != doc.ContentHash {
		return fmt.Sprintf("pointer %s: document %s content hash mismatch (stored %s, computed %s)",
			c.pointer.ID, doc.ID, short(doc.ContentHash), short(recomputed))
	}
	if doc.FetchHash != "" && doc.ContentHash != "" && doc.FetchHash != doc.ContentHash {
		return fmt.Sprintf("pointer %s: document %s was modified after fetch (fetch %s, content %s)",
			c.pointer.ID, doc.ID, short(doc.FetchHash), short(doc.ContentHash))
	}

	if strings.Contains(doc.Content, c.pointer.Quote) {
		return ""
	}
	if c.rule.RiskTier.RequiresHumanReview() {
		// Exact match only for the tiers where a wrong quote is most costly.
		return fmt.Sprintf("pointer %s: quote not found in document %s", c.pointer.ID, doc.ID)
	}
	if ContainsFold(v.normalizedText(doc), c.pointer.Quote) {
		return ""
	}
	return fmt.Sprintf("pointer %s: quote not found in document %s (fuzzy)", c.pointer.ID, doc.ID)
}

// normalizedText returns the document's visible text, cached per content hash
func (v *Verifier) normalizedText(doc model.SourceDocument) string {
	key := cache.DocumentKey(doc.ID, doc.ContentHash)
	if cached, ok := v.cache.Get(key); ok {
		return string(cached)
	}

	text := doc.Content
	if strings.Contains(doc.ContentType, "html") {
		text = HTMLToText(doc.Content)
	}
	_ = v.cache.Set(key, []byte(text), v.cacheTTL)
	return text
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
