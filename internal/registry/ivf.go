package registry

import "cyclecore/pkg/domain"

func ptr(v float64) *float64 { return &v }

// Default returns the built-in IVF stage schema: stimulation, retrieval,
// fertilization, culture, transfer, outcome. Panics only on a programming
// error in the static definitions.
func Default() *Registry {
	reg, err := New([]StageDefinition{
		{
			ID:    domain.StageStimulation,
			Order: 10,
			Required: []FieldSpec{
				{Name: "protocol", Type: FieldChoice, Choices: []string{"long", "short", "antagonist", "natural"}},
				{Name: "medicationDose", Type: FieldNumber, Min: ptr(0), Max: ptr(10000)},
				{Name: "startDate", Type: FieldDate, Retrospective: true},
			},
			Optional: []FieldSpec{
				{Name: "medication", Type: FieldText},
				{Name: "notes", Type: FieldText},
			},
		},
		{
			ID:    domain.StageOocyteRetrieval,
			Order: 20,
			Required: []FieldSpec{
				{Name: "retrievalDate", Type: FieldDate, Retrospective: true},
				{Name: "oocytesRetrieved", Type: FieldNumber, Min: ptr(0), Max: ptr(100)},
			},
			Optional: []FieldSpec{
				{Name: "matureOocytes", Type: FieldNumber, Min: ptr(0), Max: ptr(100)},
				{Name: "anesthesia", Type: FieldChoice, Choices: []string{"general", "local", "sedation"}},
				{Name: "complications", Type: FieldText},
			},
		},
		{
			ID:    domain.StageFertilization,
			Order: 30,
			Required: []FieldSpec{
				{Name: "method", Type: FieldChoice, Choices: []string{"ivf", "icsi"}},
				{Name: "oocytesInseminated", Type: FieldNumber, Min: ptr(0), Max: ptr(100)},
				{Name: "fertilizedCount", Type: FieldNumber, Min: ptr(0), Max: ptr(100)},
			},
			Optional: []FieldSpec{
				{Name: "spermSource", Type: FieldChoice, Choices: []string{"partner", "donor"}},
				{Name: "notes", Type: FieldText},
			},
		},
		{
			ID:    domain.StageEmbryoCulture,
			Order: 40,
			Required: []FieldSpec{
				{Name: "embryosCultured", Type: FieldNumber, Min: ptr(0), Max: ptr(100)},
				{Name: "cultureDays", Type: FieldNumber, Min: ptr(1), Max: ptr(7)},
			},
			Optional: []FieldSpec{
				{Name: "blastocysts", Type: FieldNumber, Min: ptr(0), Max: ptr(100)},
				{Name: "grading", Type: FieldRecord},
			},
		},
		{
			ID:    domain.StageEmbryoTransfer,
			Order: 50,
			Required: []FieldSpec{
				{Name: "transferDate", Type: FieldDate, Retrospective: true},
				{Name: "embryosTransferred", Type: FieldNumber, Min: ptr(1), Max: ptr(3)},
			},
			Optional: []FieldSpec{
				{Name: "endometriumThickness", Type: FieldNumber, Min: ptr(0), Max: ptr(30)},
				{Name: "embryosFrozen", Type: FieldNumber, Min: ptr(0), Max: ptr(100)},
			},
		},
		{
			ID:    domain.StagePregnancyOutcome,
			Order: 60,
			Required: []FieldSpec{
				{Name: "testDate", Type: FieldDate, Retrospective: true},
				{Name: "result", Type: FieldChoice, Choices: []string{"positive", "negative", "biochemical", "ectopic"}},
			},
			Optional: []FieldSpec{
				{Name: "hcgLevel", Type: FieldNumber, Min: ptr(0)},
				{Name: "notes", Type: FieldText},
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return reg
}
