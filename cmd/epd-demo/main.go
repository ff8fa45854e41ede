package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/alchemist-s/epaper"
	"github.com/alchemist-s/epaper/pixel"
)

type pinsConfig struct {
	Reset int `yaml:"reset"`
	DC    int `yaml:"dc"`
	CS    int `yaml:"cs"`
	Busy  int `yaml:"busy"`
	Power int `yaml:"power"`
}

type demoConfig struct {
	// Backend selects the transport: "spidev", "rpio" or "sim".
	Backend string `yaml:"backend"`

	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	SPIBus     int    `yaml:"spi_bus"`
	SPIDevice  int    `yaml:"spi_device"`
	SPISpeedHz uint32 `yaml:"spi_speed_hz"`

	// Pins use BCM numbering.
	Pins pinsConfig `yaml:"pins"`

	// OutputDir receives simulation snapshots.
	OutputDir string `yaml:"output_dir"`

	// BusyWaitSeconds bounds every panel operation; an unresponsive panel
	// fails instead of hanging the process.
	BusyWaitSeconds int `yaml:"busy_wait_seconds"`
}

func defaultConfig() demoConfig {
	return demoConfig{
		Backend:         "spidev",
		Width:           800,
		Height:          480,
		SPISpeedHz:      4_000_000,
		Pins:            pinsConfig{Reset: 17, DC: 25, CS: 8, Busy: 24, Power: 18},
		OutputDir:       "simulation_output",
		BusyWaitSeconds: 120,
	}
}

func loadConfig(path string) (demoConfig, error) {
	config := defaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, err
	}
	if config.Width == 0 {
		config.Width = 800
	}
	if config.Height == 0 {
		config.Height = 480
	}
	if config.BusyWaitSeconds == 0 {
		config.BusyWaitSeconds = 120
	}
	return config, nil
}

func main() {
	configFlag := flag.String("config", "", "YAML configuration file")
	backendFlag := flag.String("backend", "", "transport backend: spidev, rpio or sim")
	imageFlag := flag.String("image", "", "image for the black plane")
	redFlag := flag.String("red", "", "image for the red plane")
	fastFlag := flag.Bool("fast", false, "use the fast init waveform")
	ditherFlag := flag.Bool("dither", false, "dither instead of plain thresholding")
	clearFlag := flag.Bool("clear", false, "clear the panel instead of drawing")
	noSleepFlag := flag.Bool("no-sleep", false, "skip the deep-sleep sequence at exit")
	flag.Parse()

	config, err := loadConfig(*configFlag)
	if err != nil {
		fatal(err)
	}
	if *backendFlag != "" {
		config.Backend = *backendFlag
	}

	bus, err := openBus(config)
	if err != nil {
		fatal(err)
	}

	display, err := epaper.EPD7in5B(bus, &epaper.Config{
		Width:  config.Width,
		Height: config.Height,
	})
	if err != nil {
		fatal(err)
	}

	busyWait := time.Duration(config.BusyWaitSeconds) * time.Second
	run := func(name string, op func(context.Context) error) {
		ctx, cancel := context.WithTimeout(context.Background(), busyWait)
		defer cancel()
		if err := op(ctx); err != nil {
			fatal(fmt.Errorf("%s: %w", name, err))
		}
	}

	if *fastFlag {
		run("init", display.InitFast)
	} else {
		run("init", display.Init)
	}

	switch {
	case *clearFlag, *imageFlag == "":
		run("clear", display.Clear)
	default:
		black, err := loadPlane(*imageFlag, config.Width, config.Height, *ditherFlag)
		if err != nil {
			fatal(err)
		}
		red := pixel.NewPlane(config.Width, config.Height)
		if *redFlag != "" {
			if red, err = loadPlane(*redFlag, config.Width, config.Height, false); err != nil {
				fatal(err)
			}
		}
		run("display", func(ctx context.Context) error {
			return display.Display(ctx, black, red)
		})
	}

	if !*noSleepFlag {
		run("sleep", display.Sleep)
	}
}

func openBus(config demoConfig) (epaper.Bus, error) {
	switch config.Backend {
	case "sim":
		return epaper.OpenSimulation(&epaper.SimConfig{
			Width:     config.Width,
			Height:    config.Height,
			OutputDir: config.OutputDir,
		})
	case "rpio":
		return epaper.OpenRPi(&epaper.RPiConfig{
			SpeedHz: int(config.SPISpeedHz),
			Reset:   uint8(config.Pins.Reset),
			DC:      uint8(config.Pins.DC),
			CS:      uint8(config.Pins.CS),
			Busy:    uint8(config.Pins.Busy),
			Power:   uint8(config.Pins.Power),
		})
	case "spidev", "":
		if _, err := host.Init(); err != nil {
			return nil, err
		}
		pin := func(n int) string { return fmt.Sprintf("GPIO%d", n) }
		return epaper.OpenSPI(&epaper.SPIConfig{
			Bus:     config.SPIBus,
			Device:  config.SPIDevice,
			SpeedHz: config.SPISpeedHz,
			Reset:   gpioreg.ByName(pin(config.Pins.Reset)),
			DC:      gpioreg.ByName(pin(config.Pins.DC)),
			CS:      gpioreg.ByName(pin(config.Pins.CS)),
			Busy:    gpioreg.ByName(pin(config.Pins.Busy)),
			Power:   gpioreg.ByName(pin(config.Pins.Power)),
		})
	default:
		return nil, fmt.Errorf("unsupported backend %q", config.Backend)
	}
}

func loadPlane(path string, w, h int, dither bool) (*pixel.Plane, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, err
	}
	img = fit(img, w, h)
	if dither {
		return pixel.EncodeDithered(img, w, h)
	}
	return pixel.Encode(img, w, h)
}

// fit scales an image to the panel geometry unless it already matches it
// or its transpose (the codec handles the rotated case itself).
func fit(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if (b.Dx() == w && b.Dy() == h) || (b.Dx() == h && b.Dy() == w) {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "fatal error:", err)
	os.Exit(1)
}
