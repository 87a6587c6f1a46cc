// Package genomics contains definitions related to genomic data.
package genomics

import "fmt"

// Region defines a genomic region of interest.
type Region struct {
	// ReferenceID specifies the reference sequence the region lies on.
	ReferenceID int32
	// Start and End specify the 0-based, half-open range (in base
	// pairs) relative to the reference.  If End is zero, it is treated
	// as though it was set to the last possible position.
	Start, End uint32
}

func (region Region) String() string {
	return fmt.Sprintf("[reference:%d, start:%d, end:%d]", region.ReferenceID, region.Start, region.End)
}
