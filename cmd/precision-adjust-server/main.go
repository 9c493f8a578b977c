// Command precision-adjust-server wires the hardware drivers and
// controllers together and keeps them running; the HTTP/UI layer that
// would sit in front of them is out of scope (§1 Non-goals) — this
// binary exists to prove the wiring and give an operator a
// command-line way to kick off a full-fixture run.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/resonatorlab/laser-precision-adjust/internal/applog"
	"github.com/resonatorlab/laser-precision-adjust/internal/batch"
	"github.com/resonatorlab/laser-precision-adjust/internal/config"
	"github.com/resonatorlab/laser-precision-adjust/internal/coords"
	"github.com/resonatorlab/laser-precision-adjust/internal/devicescan"
	"github.com/resonatorlab/laser-precision-adjust/internal/fixturedriver"
	"github.com/resonatorlab/laser-precision-adjust/internal/motiondriver"
	"github.com/resonatorlab/laser-precision-adjust/internal/predictor"
	"github.com/resonatorlab/laser-precision-adjust/internal/sanitizer"
	"github.com/resonatorlab/laser-precision-adjust/internal/status"
)

func main() {
	var configPath = pflag.StringP("config-file", "c", "", "Путь к файлу конфигурации (по умолчанию — каталог конфигурации пользователя).")
	var motionPort = pflag.String("motion-port", "", "Серийный порт контроллера лазера/привода, переопределяет значение из конфигурации.")
	var fixturePort = pflag.String("fixture-port", "", "Серийный порт измерительной оснастки, переопределяет значение из конфигурации.")
	var autoDetect = pflag.Bool("auto-detect", false, "Искать последовательные порты через udev вместо значений из конфигурации.")
	var target = pflag.Float64P("target", "t", 0, "Целевая частота для автоматической настройки всех каналов (0 — не запускать настройку, только держать сервис открытым).")
	var verbose = pflag.BoolP("verbose", "v", false, "Подробное логирование.")
	var help = pflag.BoolP("help", "h", false, "Показать эту справку.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "precision-adjust-server — сервис управления стендом лазерной подгонки резонаторов.\n\n")
		fmt.Fprintf(os.Stderr, "Использование: precision-adjust-server [опции]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if *verbose {
		applog.SetGlobalLevel(charmlog.DebugLevel)
	}
	log := applog.New("main")

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

	mPort, fPort := cfg.MotionPort, cfg.FixturePort
	if *motionPort != "" {
		mPort = *motionPort
	}
	if *fixturePort != "" {
		fPort = *fixturePort
	}
	if *autoDetect {
		mPort, fPort = autoDetectPorts(log, mPort, fPort)
	}

	placements := make([]coords.Placement, len(cfg.ResonatorsPlacement))
	for i, p := range cfg.ResonatorsPlacement {
		placements[i] = coords.Placement{X: p.X, Y: p.Y, W: p.W, H: p.H}
	}

	motion, err := motiondriver.Open(mPort, motiondriver.Params{
		Placements:          placements,
		Axis:                cfg.AxisConfig,
		TotalVerticalSteps:  cfg.TotalVerticalSteps,
		BurnS:                cfg.BurnLaserS,
		BurnA:                cfg.BurnLaserA,
		BurnB:                cfg.BurnLaserB,
		BurnF:                cfg.BurnLaserF,
		SoftPowerMultiplier:  1,
	})
	if err != nil {
		log.Error("не удалось открыть канал привода/лазера", "port", mPort, "err", err)
		os.Exit(1)
	}
	defer motion.Close()

	pollInterval := time.Duration(cfg.UpdateIntervalMs) * time.Millisecond
	fixture, err := fixturedriver.Open(fPort, 115200, pollInterval, nil)
	if err != nil {
		log.Error("не удалось открыть канал оснастки", "port", fPort, "err", err)
		os.Exit(1)
	}
	defer fixture.Close()

	if err := fixture.SetFreqMeterOffset(context.Background(), cfg.FreqmeterOffset); err != nil {
		log.Error("не удалось установить смещение частотомера", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := status.New(time.Now())
	go forwardReadings(ctx, fixture, agg)

	pred := predictor.New(cfg.FragmentLen, cfg.ForecastConfig)
	go pred.Run(ctx, agg)

	sani := sanitizer.New(cfg.StableVal)
	go sani.Run(ctx, agg)

	bc := batch.New(motion, fixture, agg, pred, cfg.AutoAdjustLimits, pollInterval, cfg.WorkingOffsetPPM, cfg.ChannelCount())

	log.Info("сервис запущен", "motion_port", mPort, "fixture_port", fPort, "channels", cfg.ChannelCount())

	if *target > 0 {
		reports, err := bc.Adjust(*target)
		if err != nil {
			log.Error("не удалось запустить настройку", "err", err)
			os.Exit(1)
		}
		for r := range reports {
			log.Info("прогресс настройки", "state", r.State, "channel", r.Channel, "message", r.Message)
		}
	}

	<-ctx.Done()
	log.Info("завершение работы")
}

func forwardReadings(ctx context.Context, fixture *fixturedriver.Driver, agg *status.Aggregator) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-fixture.Readings():
			if !ok {
				return
			}
			agg.OnFixtureReading(r)
		}
	}
}

func autoDetectPorts(log interface {
	Info(msg interface{}, kv ...interface{})
	Warn(msg interface{}, kv ...interface{})
	Error(msg interface{}, kv ...interface{})
}, fallbackMotion, fallbackFixture string) (string, string) {
	motion, err := devicescan.FindOne(devicescan.Match{VendorID: "0483", ProductID: "5740"})
	if err != nil {
		log.Warn("автоопределение порта привода не удалось, использую значение из конфигурации", "err", err)
	} else {
		fallbackMotion = motion.DevNode
	}

	fixture, err := devicescan.FindOne(devicescan.Match{VendorID: "0403", ProductID: "6001"})
	if err != nil {
		log.Warn("автоопределение порта оснастки не удалось, использую значение из конфигурации", "err", err)
	} else {
		fallbackFixture = fixture.DevNode
	}

	return fallbackMotion, fallbackFixture
}
