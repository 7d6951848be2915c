package backendtest

import "github.com/pders01/triage/internal/backend"

func strPtr(s string) *string { return &s }

// SampleClients returns a small, varied customer set.
func SampleClients() []*backend.Client {
	return []*backend.Client{
		{
			ID:               1,
			Name:             "Ana Beatriz Souza",
			CPF:              "123.456.789-00",
			BirthDate:        "1985-03-14",
			Number:           "CLI-0001",
			Email:            "ana.souza@example.com",
			InvestorProfile:  "Conservador",
			CustodiedAssets:  strPtr("CDB, Tesouro Selic"),
			ContractUpToDate: true,
		},
		{
			ID:               2,
			Name:             "Bruno Almeida",
			CPF:              "987.654.321-00",
			BirthDate:        "1990-11-02",
			Number:           "CLI-0002",
			Email:            "bruno.almeida@example.com",
			InvestorProfile:  "Moderado",
			ContractUpToDate: false,
		},
		{
			ID:               3,
			Name:             "Carla Mendes",
			CPF:              "111.222.333-44",
			BirthDate:        "1978-07-30",
			Number:           "CLI-0003",
			Email:            "carla@mendes.dev",
			InvestorProfile:  "Arrojado",
			CustodiedAssets:  strPtr("Ações, FIIs"),
			ContractUpToDate: true,
		},
		{
			ID:               4,
			Name:             "Anderson Lima",
			CPF:              "555.666.777-88",
			BirthDate:        "2000-01-21",
			Number:           "CLI-0004",
			Email:            "anderson.lima@example.com",
			InvestorProfile:  "Moderado",
			ContractUpToDate: true,
		},
	}
}
