package engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/trezcool/masomo-pkl/core/placement"
)

type (
	// Board is a point in time copy of an Engine state.
	Board struct {
		Period     placement.Period      `json:"period"`
		Ready      bool                  `json:"ready"`
		Unassigned []placement.Candidate `json:"unassigned"`
		Hosts      []HostColumn          `json:"hosts"`
	}

	HostColumn struct {
		Host         placement.Host `json:"host"`
		SupervisorID string         `json:"supervisor_id,omitempty"`
		Slots        []Slot         `json:"slots"`
	}
)

// Column returns the column of the host.
func (b Board) Column(hostID string) (HostColumn, bool) {
	for _, col := range b.Hosts {
		if col.Host.ID == hostID {
			return col, true
		}
	}
	return HostColumn{}, false
}

// Render writes a plain text view of the board. Pending slots are marked with a '*'.
func (b Board) Render(w io.Writer) error {
	var sb strings.Builder
	if !b.Ready {
		sb.WriteString("board not loaded\n")
		_, err := io.WriteString(w, sb.String())
		return err
	}

	fmt.Fprintf(&sb, "period: %s (%s - %s)\n", b.Period.Name,
		b.Period.StartDate.Format(placement.DateLayout), b.Period.EndDate.Format(placement.DateLayout))

	fmt.Fprintf(&sb, "unassigned (%d):\n", len(b.Unassigned))
	for _, c := range b.Unassigned {
		fmt.Fprintf(&sb, "  - %s [%s] %s\n", c.Name, c.ClassLabel, c.ID)
	}

	for _, col := range b.Hosts {
		capacity := "unlimited"
		if col.Host.HasCapacity() {
			capacity = fmt.Sprintf("%d/%d", len(col.Slots), col.Host.Capacity)
		}
		fmt.Fprintf(&sb, "%s (%s) %s\n", col.Host.Name, capacity, col.Host.ID)
		for _, s := range col.Slots {
			mark := " "
			if s.Pending {
				mark = "*"
			}
			fmt.Fprintf(&sb, " %s- %s [%s] %s\n", mark, s.Candidate.Name, s.Candidate.ClassLabel, s.ID)
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
