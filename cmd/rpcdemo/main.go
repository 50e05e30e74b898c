// rpcdemo wires a client graph and a server graph over the loopback
// transport and runs one call of every mode, logging the outcomes. It is a
// smoke-test harness for the port layer, not part of the library.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"go.robomesh.io/rpcports/common/log"
	"go.robomesh.io/rpcports/common/log/tag"
	"go.robomesh.io/rpcports/element"
	"go.robomesh.io/rpcports/rpc"
	"go.robomesh.io/rpcports/transport/loopback"
)

type config struct {
	Log       log.Config    `yaml:"log"`
	Latency   time.Duration `yaml:"latency"`
	Timeout   time.Duration `yaml:"timeout"`
	UseProxy  bool          `yaml:"useProxy"`
	Iteration int           `yaml:"iterations"`
}

func defaultConfig() config {
	return config{
		Log:       log.Config{Level: "info", Stdout: true},
		Timeout:   2 * time.Second,
		Iteration: 1,
	}
}

// driveControl is the demo interface: a handful of motion commands with
// every return shape the port layer supports.
type driveControl interface {
	SetSpeed(metersPerSecond float64)
	Distance(x, y float64) (float64, error)
	Quadruple(d float64) int
	Reserve() rpc.Promise[int]
}

type driveController struct {
	logger log.Logger
	speed  float64
}

func (d *driveController) SetSpeed(v float64) {
	d.speed = v
	d.logger.Info("speed set", tag.NewAnyTag("metersPerSecond", v))
}

func (d *driveController) Distance(x, y float64) (float64, error) {
	if x == 0 && y == 0 {
		return 0, rpc.NewError(rpc.StatusInvalidCall, "zero displacement")
	}
	return x*x + y*y, nil
}

func (d *driveController) Quadruple(v float64) int { return int(4 * v) }

func (d *driveController) Reserve() rpc.Promise[int] {
	p := rpc.NewPromise[int]()
	go func() {
		time.Sleep(100 * time.Millisecond)
		p.SetValue(1)
	}()
	return p
}

var driveControlType = rpc.MustInterfaceType[driveControl]("robomesh.demo.DriveControl",
	driveControl.SetSpeed,
	driveControl.Distance,
	driveControl.Quadruple,
	driveControl.Reserve,
)

func main() {
	app := &cli.App{
		Name:  "rpcdemo",
		Usage: "exercise the RPC port layer over a loopback transport",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run one demo pass of every call mode",
				Action: run,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config, error) {
	cfg := defaultConfig()
	path := c.String("config")
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := log.NewZapLogger(log.BuildZapLogger(cfg.Log))
	rpc.SetLogger(logger)

	clientRoot := element.NewElement(nil, "client-process", 0)
	serverRoot := element.NewElement(nil, "server-process", 0)

	server := rpc.NewServerPort[driveControl](driveControlType,
		&driveController{logger: logger},
		rpc.PortOptions{Name: "drive", Parent: serverRoot, Logger: logger})
	client := rpc.NewClientPort[driveControl](driveControlType,
		rpc.PortOptions{Name: "drive-client", Parent: clientRoot, Logger: logger})

	pair := loopback.NewPair(driveControlType, clientRoot, serverRoot, "demo-link",
		loopback.Options{Latency: cfg.Latency, Logger: logger})
	defer pair.Close()

	clientRoot.Init()
	serverRoot.Init()
	if err := pair.B.Port().ConnectTo(server.Port()); err != nil {
		return err
	}
	if err := client.ConnectTo(pair.A.Port()); err != nil {
		return err
	}

	for i := 0; i < cfg.Iteration; i++ {
		if err := runPass(logger, client, cfg.Timeout); err != nil {
			return err
		}
	}
	logger.Info("demo finished")
	return nil
}

func runPass(logger log.Logger, client *rpc.ClientPort[driveControl], timeout time.Duration) error {
	rpc.Call(client, driveControl.SetSpeed, 1.5)

	v, err := rpc.CallSync[int](client, timeout, driveControl.Quadruple, 4.0)
	if err != nil {
		return fmt.Errorf("synchronous call: %w", err)
	}
	logger.Info("synchronous call returned", tag.NewAnyTag("value", v))

	d, err := rpc.CallSync[float64](client, timeout, driveControl.Distance, 3.0, 4.0)
	if err != nil {
		return fmt.Errorf("distance call: %w", err)
	}
	logger.Info("distance call returned", tag.NewAnyTag("value", d))

	_, err = rpc.CallSync[float64](client, timeout, driveControl.Distance, 0.0, 0.0)
	logger.Info("zero displacement rejected as expected",
		tag.FutureStatus(rpc.StatusOf(err).String()))

	fut := rpc.FutureCall[int](client, driveControl.Quadruple, 2.0)
	if v, err = fut.Get(timeout); err != nil {
		return fmt.Errorf("future call: %w", err)
	}
	logger.Info("future call returned", tag.NewAnyTag("value", v))

	pfut := rpc.PromiseCall[int](client, driveControl.Reserve)
	if v, err = pfut.Get(timeout); err != nil {
		return fmt.Errorf("promise call: %w", err)
	}
	logger.Info("promise call fulfilled", tag.NewAnyTag("value", v))
	return nil
}
