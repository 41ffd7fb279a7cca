// Command memdemo is a trivial exercising program for the memalloc
// allocator, modeled on the original implementation's main(): it opens the
// operation log, runs a short fixed allocate/realloc/free sequence under a
// chosen placement policy, and prints a heap verification report and a
// statistics snapshot before exiting.
package main

import (
	"flag"
	"fmt"
	"os"
	"unsafe"

	"github.com/cbarrick/memalloc"
)

func main() {
	logPath := flag.String("log", "memory.log", "operation log path")
	policy := flag.Int("policy", int(memalloc.FirstFit), "placement policy: 0=first-fit 1=best-fit 2=worst-fit")
	flag.Parse()

	a := memalloc.New(memalloc.WithPolicy(memalloc.Policy(*policy)))
	defer a.Close()

	if err := a.OpenLog(*logPath); err != nil {
		fmt.Fprintln(os.Stderr, "memdemo: open log:", err)
		os.Exit(1)
	}
	defer a.CloseLog()

	p1, err := a.Allocate(100)
	must(err)
	dumpHeap(a)

	p2, err := a.AllocateZeroed(10, int(unsafe.Sizeof(int(0))))
	must(err)
	dumpHeap(a)

	p1, err = a.Resize(p1, 200)
	must(err)
	dumpHeap(a)

	must(a.Free(p1, true))
	dumpHeap(a)

	must(a.Free(p2, true))

	stats := a.Snapshot(true)
	fmt.Printf("memdemo: final stats: %+v\n", stats)
}

func dumpHeap(a *memalloc.Allocator) {
	if issues := a.VerifyHeap(os.Stdout); len(issues) != 0 {
		for _, msg := range issues {
			fmt.Fprintln(os.Stderr, "memdemo: heap violation:", msg)
		}
	}
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "memdemo:", err)
		os.Exit(1)
	}
}
