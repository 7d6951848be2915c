package backend

import (
	"strings"
	"time"
)

// Category values returned by the classifier.
const (
	CategoryProductive   = "Produtivo"
	CategoryUnproductive = "Improdutivo"
)

// Client is a customer record as served by /api/clients.
type Client struct {
	ID               int     `json:"id"`
	Name             string  `json:"nome_completo"`
	CPF              string  `json:"cpf"`
	BirthDate        string  `json:"data_nascimento"`
	Number           string  `json:"numero_cliente"`
	Email            string  `json:"email"`
	InvestorProfile  string  `json:"perfil_investidor"`
	CustodiedAssets  *string `json:"ativos_custodiados"`
	ContractUpToDate bool    `json:"plano_contratual_em_dia"`
}

// Birth parses BirthDate. The zero time is returned when it is missing or
// malformed.
func (c *Client) Birth() time.Time {
	if c.BirthDate == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.DateOnly, c.BirthDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Assets returns the custodied assets, or "" when the backend sent null.
func (c *Client) Assets() string {
	if c.CustodiedAssets == nil {
		return ""
	}
	return *c.CustodiedAssets
}

// ContractStatus is the label shown next to a client.
func (c *Client) ContractStatus() string {
	if c.ContractUpToDate {
		return "Up to date"
	}
	return "Overdue"
}

// SearchResponse is the envelope of the list and search endpoints.
type SearchResponse struct {
	Success bool      `json:"success"`
	Count   int       `json:"count"`
	Clients []*Client `json:"clients"`
}

type clientEnvelope struct {
	Success bool    `json:"success"`
	Client  *Client `json:"client"`
}

// Classification is the classifier's verdict for one email.
type Classification struct {
	Category       string `json:"category"`
	Reason         string `json:"reason"`
	SuggestedReply string `json:"suggested_reply"`
}

// Productive reports whether the email needs action.
func (c *Classification) Productive() bool {
	return strings.EqualFold(strings.TrimSpace(c.Category), CategoryProductive)
}

// ClassifyRequest carries the email text, an attached file, or both.
type ClassifyRequest struct {
	Text     string
	FileName string
	File     []byte
}

func (r ClassifyRequest) hasFile() bool {
	return r.FileName != "" || r.File != nil
}
