// Command precision-adjust-cli is a manual-control harness over the
// same hardware capability interfaces the automated controllers use
// (§6 Controller API): select a channel, step, burn, toggle the
// camera/valve, or run the connectivity test, one command per
// invocation. It exists for bench bring-up and smoke-testing new
// fixture wiring, not for day-to-day operation.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/resonatorlab/laser-precision-adjust/internal/applog"
	"github.com/resonatorlab/laser-precision-adjust/internal/config"
	"github.com/resonatorlab/laser-precision-adjust/internal/coords"
	"github.com/resonatorlab/laser-precision-adjust/internal/fixturedriver"
	"github.com/resonatorlab/laser-precision-adjust/internal/hardware"
	"github.com/resonatorlab/laser-precision-adjust/internal/motiondriver"
)

func main() {
	var configPath = pflag.StringP("config-file", "c", "", "Путь к файлу конфигурации.")
	var cmd = pflag.StringP("command", "x", "", "select|step|burn|camera-open|camera-close|valve-vacuum|valve-atmosphere|reset|test")
	var channel = pflag.IntP("channel", "n", 0, "Номер канала.")
	var steps = pflag.IntP("steps", "s", 1, "Количество шагов (для команды step).")
	var soft = pflag.Bool("soft", false, "Мягкое прижигание (для команды burn).")
	var help = pflag.BoolP("help", "h", false, "Показать эту справку.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "precision-adjust-cli — ручное управление стендом для наладки.\n\n")
		fmt.Fprintf(os.Stderr, "Использование: precision-adjust-cli -x <command> [опции]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help || *cmd == "" {
		pflag.Usage()
		os.Exit(0)
	}

	log := applog.New("cli")

	path := *configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			log.Error("не удалось определить путь конфигурации", "err", err)
			os.Exit(1)
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Error("не удалось загрузить конфигурацию", "path", path, "err", err)
		os.Exit(1)
	}

	placements := make([]coords.Placement, len(cfg.ResonatorsPlacement))
	for i, p := range cfg.ResonatorsPlacement {
		placements[i] = coords.Placement{X: p.X, Y: p.Y, W: p.W, H: p.H}
	}

	motion, err := motiondriver.Open(cfg.MotionPort, motiondriver.Params{
		Placements:          placements,
		Axis:                cfg.AxisConfig,
		TotalVerticalSteps:  cfg.TotalVerticalSteps,
		BurnS:               cfg.BurnLaserS,
		BurnA:               cfg.BurnLaserA,
		BurnB:               cfg.BurnLaserB,
		BurnF:               cfg.BurnLaserF,
		SoftPowerMultiplier: 1,
	})
	if err != nil {
		log.Error("не удалось открыть канал привода/лазера", "err", err)
		os.Exit(1)
	}
	defer motion.Close()

	fixture, err := fixturedriver.Open(cfg.FixturePort, 115200, time.Duration(cfg.UpdateIntervalMs)*time.Millisecond, nil)
	if err != nil {
		log.Error("не удалось открыть канал оснастки", "err", err)
		os.Exit(1)
	}
	defer fixture.Close()

	ctx := context.Background()

	switch *cmd {
	case "select":
		err = motion.SelectChannel(ctx, *channel, 0, 3)
		if err == nil {
			err = fixture.SelectChannel(ctx, *channel)
		}
	case "step":
		err = motion.Step(ctx, *steps, 3)
	case "burn":
		err = motion.Burn(ctx, 1, 0, 3, *soft)
	case "camera-open":
		err = fixture.CameraControl(ctx, hardware.CameraOpen)
	case "camera-close":
		err = fixture.CameraControl(ctx, hardware.CameraClose)
	case "valve-vacuum":
		err = fixture.ValveControl(ctx, hardware.ValveVacuum)
	case "valve-atmosphere":
		err = fixture.ValveControl(ctx, hardware.ValveAtmosphere)
	case "reset":
		err = fixture.Reset(ctx)
	case "test":
		err = motion.TestConnection(ctx)
	default:
		fmt.Fprintf(os.Stderr, "неизвестная команда: %s\n", *cmd)
		pflag.Usage()
		os.Exit(1)
	}

	if err != nil {
		log.Error("команда завершилась с ошибкой", "command", *cmd, "err", err)
		os.Exit(1)
	}
	log.Info("команда выполнена", "command", *cmd)
}
