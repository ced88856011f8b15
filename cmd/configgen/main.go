package main

import (
	"flag"
	"log"

	"github.com/danmuck/integractl/internal/config"
)

func main() {
	kind := flag.String("kind", "fleet", "template kind: fleet|tls|serial")
	output := flag.String("output", "fleet.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "fleet.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.LoadFleetConfig(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated fleet %q at %s (%d terminals)", cfg.Name, *input, len(cfg.Terminals))
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, *output)
}
