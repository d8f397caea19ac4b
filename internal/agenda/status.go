package agenda

// Status is the clinic service's canonical appointment status vocabulary.
// The UI speaks in labels; ToLabel/ToCanonical translate between the two.
type Status string

const (
	StatusMarcado       Status = "MARCADO"
	StatusConfirmado    Status = "CONFIRMADO"
	StatusEmAtendimento Status = "EM_ATENDIMENTO"
	StatusAtendido      Status = "ATENDIDO"
	StatusFaltou        Status = "FALTOU"
	StatusCancelado     Status = "CANCELADO"
	StatusRemarcado     Status = "REMARCADO"
)

const (
	LabelAgendado      = "Agendado"
	LabelConfirmado    = "Confirmado"
	LabelEmAtendimento = "Em atendimento"
	LabelConcluido     = "Concluído"
	LabelFaltou        = "Faltou"
	LabelCancelado     = "Cancelado"
)

// REMARCADO has no label of its own and folds into Agendado. The fold is
// lossy: ToCanonical(ToLabel(REMARCADO)) yields MARCADO.
var statusLabels = map[Status]string{
	StatusMarcado:       LabelAgendado,
	StatusConfirmado:    LabelConfirmado,
	StatusEmAtendimento: LabelEmAtendimento,
	StatusAtendido:      LabelConcluido,
	StatusFaltou:        LabelFaltou,
	StatusCancelado:     LabelCancelado,
	StatusRemarcado:     LabelAgendado,
}

// statusSynonyms lists, per canonical status, every folded spelling that
// historical data or the UI may use for it. Both the status filter and
// ToCanonical consume this table so the two never drift apart.
var statusSynonyms = map[Status][]string{
	StatusMarcado:       {"marcado", "agendado"},
	StatusConfirmado:    {"confirmado"},
	StatusEmAtendimento: {"em_atendimento", "em atendimento", "atendimento"},
	StatusAtendido:      {"atendido", "concluido", "finalizado"},
	StatusFaltou:        {"faltou", "falta"},
	StatusCancelado:     {"cancelado"},
	StatusRemarcado:     {"remarcado"},
}

// ToLabel maps a canonical status to its UI label. Total: unknown input
// renders as Agendado.
func ToLabel(s Status) string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return LabelAgendado
}

// ToCanonical maps a UI label, canonical value or free-text synonym back to
// the canonical vocabulary. Total: unknown input maps to MARCADO.
func ToCanonical(s string) Status {
	folded := foldText(s)
	if folded == "" {
		return StatusMarcado
	}
	for canonical, synonyms := range statusSynonyms {
		for _, syn := range synonyms {
			if folded == syn {
				if canonical == StatusRemarcado {
					return StatusRemarcado
				}
				return canonical
			}
		}
	}
	return StatusMarcado
}

// statusMatches reports whether an appointment's stored status satisfies a
// filter value. Historical records carry legacy label spellings, so matching
// goes through the synonym table instead of exact equality.
func statusMatches(stored Status, filter string) bool {
	want := ToCanonical(filter)
	got := ToCanonical(string(stored))
	if want == got {
		return true
	}
	// A rescheduled appointment still shows as Agendado, so the Agendado
	// filter keeps it visible.
	if want == StatusMarcado && got == StatusRemarcado {
		return true
	}
	return false
}

// terminalStatuses get no further transition in this UI. The clinic service
// remains the final authority.
var terminalStatuses = map[Status]bool{
	StatusCancelado: true,
	StatusAtendido:  true,
}

// CanTransition reports whether the UI may offer a status change.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if terminalStatuses[from] {
		return false
	}
	if from == StatusMarcado {
		return true
	}
	switch to {
	case StatusCancelado, StatusAtendido, StatusEmAtendimento:
		return true
	}
	return false
}
