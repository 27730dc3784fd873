// Command odkit fits an outlier detector on a dataset and reports which
// samples are anomalous.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
