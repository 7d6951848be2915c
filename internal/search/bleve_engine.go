package search

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/pders01/triage/internal/backend"
	"github.com/pders01/triage/internal/debuglog"
)

const lowerKeyword = "lower_keyword"

type bleveEngine struct {
	store ClientSource
	idx   bleve.Index
}

// NewBleveEngine creates or opens a Bleve index at indexPath and indexes the
// cached clients. An empty indexPath keeps the index in memory.
func NewBleveEngine(store ClientSource, indexPath string) (*bleveEngine, error) {
	var idx bleve.Index
	var err error

	if indexPath == "" {
		idx, err = bleve.NewMemOnly(buildIndexMapping())
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(indexPath), 0o755); mkErr != nil {
			debuglog.Warnf("creating index dir: %v", mkErr)
		}
		idx, err = bleve.Open(indexPath)
		if err != nil {
			idx, err = bleve.New(indexPath, buildIndexMapping())
		}
	}
	if err != nil {
		return nil, err
	}

	be := &bleveEngine{store: store, idx: idx}
	if err := be.reindexAll(); err != nil {
		idx.Close()
		return nil, err
	}
	return be, nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name
	_ = im.AddCustomAnalyzer(lowerKeyword, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	})

	dm := bleve.NewDocumentMapping()

	name := bleve.NewTextFieldMapping()
	name.Analyzer = standard.Name
	name.Store = true
	name.IncludeTermVectors = true

	email := bleve.NewTextFieldMapping()
	email.Analyzer = standard.Name
	email.Store = true

	// Whole-value fields for prefix and wildcard lookups.
	keyword := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = lowerKeyword
		fm.Store = true
		return fm
	}

	dm.AddFieldMappingsAt("name", name)
	dm.AddFieldMappingsAt("email", email)
	dm.AddFieldMappingsAt("email_kw", keyword())
	dm.AddFieldMappingsAt("cpf", keyword())
	dm.AddFieldMappingsAt("cpf_digits", keyword())
	dm.AddFieldMappingsAt("number", keyword())

	profile := bleve.NewTextFieldMapping()
	profile.Analyzer = standard.Name
	profile.Store = false
	dm.AddFieldMappingsAt("profile", profile)

	im.DefaultMapping = dm
	return im
}

func clientDoc(c *backend.Client) map[string]any {
	return map[string]any{
		"name":       c.Name,
		"email":      c.Email,
		"email_kw":   c.Email,
		"cpf":        c.CPF,
		"cpf_digits": digitsOnly(c.CPF),
		"number":     c.Number,
		"profile":    c.InvestorProfile,
	}
}

func (b *bleveEngine) reindexAll() error {
	clients, err := b.store.AllClients()
	if err != nil {
		return err
	}
	return b.indexClients(clients)
}

func (b *bleveEngine) indexClients(clients []*backend.Client) error {
	batch := b.idx.NewBatch()
	for _, c := range clients {
		if c == nil {
			continue
		}
		if err := batch.Index(docIDForClient(c.ID), clientDoc(c)); err != nil {
			return err
		}
	}
	return b.idx.Batch(batch)
}

func (b *bleveEngine) Search(query string, limit int) ([]*Result, error) {
	q := normalizeQuery(query)
	if utf8.RuneCountInString(q) < MinQueryLength {
		return []*Result{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	contains := "*" + wildcardStripper.Replace(q) + "*"
	qs := []bleveQuery.Query{
		boosted(bleve.NewPrefixQuery(q), "number", 3.0),
		boosted(bleve.NewWildcardQuery(contains), "number", 1.5),
		boosted(bleve.NewWildcardQuery(contains), "cpf", 2.0),
		boosted(bleve.NewWildcardQuery(contains), "email_kw", 1.2),
	}
	if d := digitsOnly(q); len(d) >= MinQueryLength {
		qs = append(qs, boosted(bleve.NewWildcardQuery("*"+d+"*"), "cpf_digits", 2.0))
	}
	for _, tok := range tokenize(q) {
		m := bleve.NewMatchQuery(tok)
		m.SetField("name")
		m.SetBoost(4.0)
		qs = append(qs, m)
		qs = append(qs, boosted(bleve.NewPrefixQuery(tok), "name", 3.5))
		qs = append(qs, boosted(bleve.NewPrefixQuery(tok), "email", 1.0))
	}

	srch := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(qs...), limit, 0, false)
	res, err := b.idx.Search(srch)
	if err != nil {
		return nil, err
	}

	out := make([]*Result, 0, len(res.Hits))
	for _, h := range res.Hits {
		id, ok := clientIDFromDoc(h.ID)
		if !ok {
			continue
		}
		c, err := b.store.GetClient(id)
		if err != nil {
			// Index entry outlived the cache row.
			continue
		}
		out = append(out, &Result{Client: c, Score: h.Score})
	}
	return out, nil
}

type fieldBoostQuery interface {
	bleveQuery.Query
	SetField(string)
	SetBoost(float64)
}

func boosted(q fieldBoostQuery, field string, boost float64) bleveQuery.Query {
	q.SetField(field)
	q.SetBoost(boost)
	return q
}

// bleve escapes regexp metacharacters itself; only the wildcard runes
// need removing.
var wildcardStripper = strings.NewReplacer("*", "", "?", "")

// OnClientsUpdated indexes the given clients.
func (b *bleveEngine) OnClientsUpdated(clients []*backend.Client) {
	if err := b.indexClients(clients); err != nil {
		debuglog.Errorf("indexing %d clients: %v", len(clients), err)
	}
}

// Reindex rebuilds the index from the cache.
func (b *bleveEngine) Reindex() error {
	return b.reindexAll()
}

// DocCount reports total documents in the index.
func (b *bleveEngine) DocCount() (int, error) {
	n, err := b.idx.DocCount()
	return int(n), err
}

func (b *bleveEngine) Close() error {
	return b.idx.Close()
}

func docIDForClient(id int) string { return "client:" + strconv.Itoa(id) }

func clientIDFromDoc(docID string) (int, bool) {
	raw, ok := strings.CutPrefix(docID, "client:")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	return id, err == nil
}
