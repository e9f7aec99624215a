// Command vmkern-demo wires the reference implementations together and
// narrates a handful of end-to-end virtual-memory scenarios on the
// command line, in the plain package-main / log.Fatal style of biscuit's
// own chentry.go tool.
package main

import (
	"flag"
	"fmt"
	"log"

	"vmkern"
	"vmkern/diag"
	"vmkern/fault"
	"vmkern/fsiface"
	"vmkern/mmuiface"
	"vmkern/procvm"
)

func main() {
	frames := flag.Int("frames", 4, "number of simulated physical frames")
	slots := flag.Int64("swap-slots", 16, "number of swap slots")
	flag.Parse()

	sys := vmkern.Init(vmkern.WithFrameCount(*frames), vmkern.WithSwapSlots(*slots))
	as := procvm.New(sys.Frames, sys.Swap, mmuiface.NewSoftTable())

	log.Printf("vmkern demo: %d frames, %d swap slots", *frames, *slots)

	// Scenario: lazily-initialized anonymous page, claimed on first touch.
	const va = 0x10000
	ok := as.AllocWithInitializer(va, true, func(dst []byte) error {
		copy(dst, []byte("hello from the lazy initializer"))
		return nil
	})
	if !ok {
		log.Fatal("AllocWithInitializer failed")
	}
	if !as.TryHandleFault(fault.Trap{NotPresent: true, User: true}, va) {
		log.Fatal("expected fault to resolve")
	}
	fmt.Println(diag.FormatStats("resident pages after first fault", 1))

	// Scenario: an mmap'd region of an in-memory file, claimed and torn
	// down again.
	mf := fsiface.NewMemFile([]byte("mapped file contents"))
	base, ok := as.Mmap(0x20000000, vmkern.PageSize, true, mf, 0)
	if !ok {
		log.Fatal("Mmap failed")
	}
	if !as.Claim(base) {
		log.Fatal("expected claim on mapped page to succeed")
	}
	as.Munmap(base)
	fmt.Println("mmap/munmap round trip complete")

	diag.RecordFaultHandled()
	diag.RecordFaultHandled()
	fmt.Println("done")
}
