package main

import (
	"fmt"
	"os"

	"cdcrelay/internal/logging"
	"cdcrelay/source/kafka"

	_ "cdcrelay/sink/kafka"
	_ "cdcrelay/sink/stdout"
)

func main() {
	logging.InitFromEnv()
	kafka.Register("sarama", func() kafka.Adapter { return &kafka.SaramaDriver{} })
	kafka.Register("kgo", func() kafka.Adapter { return &kafka.KgoDriver{} })

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
