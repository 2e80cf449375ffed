package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/morsekit/cwd/pkg/audio"
	"github.com/morsekit/cwd/pkg/cw"
	"github.com/morsekit/cwd/pkg/morse"
)

func main() {
	var (
		text       = flag.String("text", "", "Text to key (A-Z, 0-9, punctuation, spaces)")
		wpm        = flag.Int("wpm", 20, "Keying speed in words per minute")
		frequency  = flag.Int("freq", 800, "Sidetone frequency in Hz")
		sampleRate = flag.Int("rate", 8000, "Audio sample rate")
		weighting  = flag.Int("weighting", 50, "Dot weighting in percent (50 = neutral)")
		gap        = flag.Int("gap", 0, "Extra Farnsworth gap in dot units")
		output     = flag.String("output", "", "Output audio file (raw 16-bit little-endian samples)")
		showMorse  = flag.Bool("morse", false, "Show the Morse representation")
	)
	flag.Parse()

	if *text == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -text \"CQ CQ DE SP8NTH\" [options]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	if *showMorse {
		fmt.Printf("Morse: %s\n", representationOf(*text))
	}

	out, err := audio.NewOutput(*sampleRate, 1024, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Audio setup failed: %v\n", err)
		os.Exit(1)
	}

	var file *os.File
	if *output != "" {
		file, err = os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create output file: %v\n", err)
			os.Exit(1)
		}
		defer file.Close()
	}

	var totalSamples int64
	var peak int16
	out.AddTap(func(samples []int16) {
		totalSamples += int64(len(samples))
		for _, sample := range samples {
			if sample < 0 {
				sample = -sample
			}
			if sample > peak {
				peak = sample
			}
		}
		if file != nil {
			buf := make([]byte, 2*len(samples))
			for i, sample := range samples {
				buf[2*i] = byte(sample)
				buf[2*i+1] = byte(uint16(sample) >> 8)
			}
			file.Write(buf)
		}
	})

	gen, err := cw.NewGenerator(out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Generator setup failed: %v\n", err)
		os.Exit(1)
	}
	for _, step := range []struct {
		name string
		err  error
	}{
		{"speed", gen.SetSpeed(*wpm)},
		{"frequency", gen.SetFrequency(*frequency)},
		{"weighting", gen.SetWeighting(*weighting)},
		{"gap", gen.SetGap(*gap)},
	} {
		if step.err != nil {
			fmt.Fprintf(os.Stderr, "Invalid %s: %v\n", step.name, step.err)
			os.Exit(1)
		}
	}

	params := gen.TimingParameters()
	fmt.Printf("Keying %q at %d WPM, %d Hz\n", *text, *wpm, *frequency)
	fmt.Printf("  Dot:        %v\n", params.Dot)
	fmt.Printf("  Dash:       %v\n", params.Dash)
	fmt.Printf("  Mark gap:   %v\n", params.EOEDelay)
	fmt.Printf("  Char gap:   %v\n", params.EOEDelay+params.EOCDelay)
	fmt.Printf("  Word gap:   %v\n", params.EOEDelay+params.EOCDelay+params.EOWDelay+params.AdjustmentDelay)

	if err := gen.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Playback failed: %v\n", err)
		os.Exit(1)
	}

	begin := time.Now()
	if err := gen.SendString(*text); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot key %q: %v\n", *text, err)
		os.Exit(1)
	}
	gen.Queue().WaitForLevel(0)
	gen.Stop()
	out.Close()

	duration := float64(totalSamples) / float64(*sampleRate)
	fmt.Printf("\nGenerated %d samples (%.2f seconds, keyed in %v)\n",
		totalSamples, duration, time.Since(begin).Round(time.Millisecond))
	fmt.Printf("Peak amplitude: %.1f%% of full scale\n", float64(peak)/32767.0*100)

	if *output != "" {
		fmt.Printf("Wrote audio to %s\n", *output)
		fmt.Printf("Play with: sox -r %d -e signed -b 16 -c 1 %s -d\n", *sampleRate, *output)
	}
}

// representationOf renders text as dots and dashes, with / between words.
func representationOf(text string) string {
	var parts []string
	for _, r := range strings.ToUpper(text) {
		if r == ' ' {
			parts = append(parts, "/")
			continue
		}
		representation, err := morse.CharacterToRepresentation(r)
		if err != nil {
			parts = append(parts, "?")
			continue
		}
		parts = append(parts, representation)
	}
	return strings.Join(parts, " ")
}
