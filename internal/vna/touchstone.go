package vna

import (
	"bufio"
	"fmt"
	"io"
)

// WriteTouchstone writes freq and s as a Touchstone 1.1 file in
// real/imaginary format with a 50 ohm reference. Two-port data uses the
// S11 S21 S12 S22 column order; larger matrices are written row by row
// with at most four pairs per line.
func WriteTouchstone(w io.Writer, freq []float64, s SMatrix) error {
	if len(freq) != len(s) {
		return fmt.Errorf("touchstone: %d frequencies for %d points", len(freq), len(s))
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# Hz S RI R 50")
	for p, f := range freq {
		m := s[p]
		n := len(m)
		fmt.Fprintf(bw, "%.6f", f)
		switch n {
		case 1:
			writePair(bw, m[0][0])
		case 2:
			writePair(bw, m[0][0])
			writePair(bw, m[1][0])
			writePair(bw, m[0][1])
			writePair(bw, m[1][1])
		default:
			for r := 0; r < n; r++ {
				for c := 0; c < n; c++ {
					if c > 0 && c%4 == 0 {
						fmt.Fprint(bw, "\n")
					}
					writePair(bw, m[r][c])
				}
				if r < n-1 {
					fmt.Fprint(bw, "\n")
				}
			}
		}
		fmt.Fprint(bw, "\n")
	}
	return bw.Flush()
}

func writePair(w io.Writer, v complex128) {
	fmt.Fprintf(w, " %.9e %.9e", real(v), imag(v))
}
