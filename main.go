package main

import (
	cmd "github.com/conllab/conllab/cmd/conllab"
	"github.com/conllab/conllab/internal"
)

var log = internal.GetLogger()

func main() {
	log.Info("Starting conllab")
	cmd.Execute()
}
