package main

import (
	"flag"
	"os"

	"github.com/danmuck/jrpc/internal/config"
	"github.com/danmuck/jrpc/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	output := flag.String("output", "client.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	render := flag.Bool("print", false, "print the effective config of -input with defaults resolved")
	input := flag.String("input", "client.toml", "config path for -validate and -print")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	logging.ConfigureRuntime()

	if *validate || *render {
		cfg, err := config.LoadClientConfig(*input)
		if err != nil {
			log.Fatal().Err(err).Msg("config invalid")
		}
		if *render {
			out, err := config.Render(cfg)
			if err != nil {
				log.Fatal().Err(err).Msg("render failed")
			}
			_, _ = os.Stdout.Write(out)
			return
		}
		log.Info().Str("path", *input).Msg("validated client config")
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal().Err(err).Msg("write template failed")
	}
	log.Info().Str("path", *output).Msg("wrote client config template")
}
