// Package diag is vmkern's ambient observability surface: instruction
// disassembly for fault diagnostics, a pprof-format event snapshot, and
// locale-aware status formatting. None of these are required by the core
// algorithms; they exist because the ambient stack is carried regardless
// of what spec.md's non-goals exclude, replacing biscuit's own
// caller.Callerdump/stats.Counter_t mechanisms with real ecosystem
// libraries rather than porting the bespoke ones.
package diag

import (
	"fmt"
	"time"

	"github.com/google/pprof/profile"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	faultsHandled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vmkern_faults_handled_total",
		Help: "Number of page faults resolved by the fault handler.",
	})
	pagesResident = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vmkern_pages_resident",
		Help: "Number of supplemental page table entries currently resident.",
	})
)

func init() {
	prometheus.MustRegister(faultsHandled, pagesResident)
}

// RecordFaultHandled increments the fault counter; callers invoke this
// once per resolved fault.
func RecordFaultHandled() { faultsHandled.Inc() }

// SetResidentPages sets the current resident-page gauge.
func SetResidentPages(n int) { pagesResident.Set(float64(n)) }

// DisassembleFault decodes the faulting instruction's bytes for inclusion
// in an unrecoverable-fault diagnostic, mirroring the instruction-level
// detail a real kernel's panic handler would print.
func DisassembleFault(code []byte) (string, error) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return "", err
	}
	return x86asm.GNUSyntax(inst, 0, nil), nil
}

// Event is one eviction/fault occurrence recorded for the Profile export.
type Event struct {
	Kind string
	VA   uintptr
	When time.Duration
}

// Profile renders a sequence of Events as a pprof profile.Profile whose
// samples are labeled by kind, so eviction and fault activity can be
// inspected offline with the standard pprof tooling.
func Profile(events []Event) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "events", Unit: "count"}},
		TimeNanos:  time.Now().UnixNano(),
	}
	fnByName := map[string]*profile.Function{}
	locByName := map[string]*profile.Location{}
	var nextID uint64 = 1

	for _, ev := range events {
		fn, ok := fnByName[ev.Kind]
		if !ok {
			fn = &profile.Function{ID: nextID, Name: ev.Kind}
			nextID++
			fnByName[ev.Kind] = fn
			p.Function = append(p.Function, fn)
		}
		loc, ok := locByName[ev.Kind]
		if !ok {
			loc = &profile.Location{
				ID:   nextID,
				Line: []profile.Line{{Function: fn}},
			}
			nextID++
			locByName[ev.Kind] = loc
			p.Location = append(p.Location, loc)
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{1},
			Label:    map[string][]string{"va": {fmt.Sprintf("%#x", ev.VA)}},
		})
	}
	return p
}

// FormatStats renders n with locale-aware thousands separators, for the
// demo command's status line.
func FormatStats(label string, n int) string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("%s: %d", label, n)
}
