package contracts

import (
	"context"
	"strings"

	"rfq-workers/internal/common/config"
	"rfq-workers/internal/models"
)

// StaticLookup serves contract templates declared under rfq.contracts.
type StaticLookup struct {
	records map[string]*models.ContractRecord
}

func NewStaticLookup(contracts map[string]map[string]config.StaticContract) *StaticLookup {
	records := make(map[string]*models.ContractRecord, len(contracts))
	for stackID, services := range contracts {
		rec := &models.ContractRecord{
			StackID:  stackID,
			Services: make(map[models.Category]models.ServiceContract),
		}
		for name, sc := range services {
			category, err := models.ParseCategory(name)
			if err != nil {
				continue
			}
			rec.Services[category] = models.ServiceContract{
				Endpoints:     models.ParseEndpoints(sc.Endpoints),
				ContractValue: sc.ContractValue,
			}
		}
		records[strings.ToLower(stackID)] = rec
	}
	return &StaticLookup{records: records}
}

// Lookup matches stack ids case-insensitively since configuration keys are lowercased on load.
func (l *StaticLookup) Lookup(_ context.Context, stackID string) (*models.ContractRecord, error) {
	rec, ok := l.records[strings.ToLower(stackID)]
	if !ok {
		return nil, ErrStackNotFound
	}
	out := &models.ContractRecord{StackID: stackID, Services: make(map[models.Category]models.ServiceContract, len(rec.Services))}
	for c, svc := range rec.Services {
		out.Services[c] = svc
	}
	return out, nil
}
