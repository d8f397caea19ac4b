package agenda

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ConflictChecker is the slice of the clinic service the validator needs.
type ConflictChecker interface {
	ValidateConflict(ctx context.Context, c Candidate) error
}

// Validator pre-flight-checks a candidate against the clinic service and
// normalizes the outcome. The check is advisory: the service re-validates on
// the actual write, so a transport failure here degrades to "no conflict"
// instead of blocking the user.
type Validator struct {
	checker ConflictChecker
	log     *zap.Logger
}

func NewValidator(checker ConflictChecker, log *zap.Logger) *Validator {
	return &Validator{checker: checker, log: log}
}

func (v *Validator) Validate(ctx context.Context, c Candidate) ConflictResult {
	err := v.checker.ValidateConflict(ctx, c)
	if err == nil {
		return ConflictResult{OK: true}
	}

	var conflictErr *ConflictError
	if !errors.As(err, &conflictErr) {
		// Fail-open on transport trouble.
		v.log.Warn("conflict pre-check unavailable, proceeding without it", zap.Error(err))
		return ConflictResult{OK: true}
	}

	overlaps := make([]Overlap, 0, len(conflictErr.Conflicts))
	for _, raw := range conflictErr.Conflicts {
		overlaps = append(overlaps, Overlap{
			StartTime: normalizeClock(raw.Start),
			EndTime:   normalizeClock(raw.End),
			IsBlock:   isBlockKind(raw.Kind),
		})
	}

	return ConflictResult{
		OK:       false,
		Overlaps: overlaps,
		Message:  overlapMessage(overlaps),
	}
}

// Decide applies the save policy to a validation result: a block overlap is
// never overridable; consultation overlaps require the fit-in flag.
func Decide(res ConflictResult, fitInAllowed bool) error {
	if res.OK {
		return nil
	}
	for _, o := range res.Overlaps {
		if o.IsBlock {
			return fmt.Errorf("%w: %s", ErrBlockedPeriod, res.Message)
		}
	}
	if !fitInAllowed {
		return fmt.Errorf("%w: %s; marque a opção de encaixe para agendar mesmo assim", ErrOverlapNeedsFitIn, res.Message)
	}
	return nil
}

func isBlockKind(kind string) bool {
	folded := foldText(kind)
	return folded == "block" || strings.Contains(folded, "bloqueio")
}

// overlapMessage lists at most two overlaps and summarizes the rest.
func overlapMessage(overlaps []Overlap) string {
	if len(overlaps) == 0 {
		return "conflito de horário"
	}

	shown := overlaps
	if len(shown) > 2 {
		shown = shown[:2]
	}

	parts := make([]string, 0, len(shown))
	for _, o := range shown {
		name := "Consulta"
		if o.IsBlock {
			name = "Bloqueio"
		}
		parts = append(parts, fmt.Sprintf("%s %s–%s", name, o.StartTime, o.EndTime))
	}

	msg := "conflito de horário: " + strings.Join(parts, ", ")
	if extra := len(overlaps) - len(shown); extra > 0 {
		msg += fmt.Sprintf(" (+%d)", extra)
	}
	return msg
}
