package cmd

import (
	"fmt"
	"io"
)

const banner = `
  _                 _
 | |_ _ __ _   _ ___| |_ ___ ___  _ __ ___
 | __| '__| | | / __| __/ __/ _ \| '__/ _ \
 | |_| |  | |_| \__ \ || (_| (_) | | |  __/
  \__|_|   \__,_|___/\__\___\___/|_|  \___|

`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Helyxium Trust Service - Version %s\x1b[0m\n\n", Version)
}
