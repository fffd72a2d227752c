package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fxnlabs/hashfill/internal/accel"
	"github.com/fxnlabs/hashfill/pkg/client"
	"github.com/urfave/cli/v2"
)

var serverFlag = &cli.StringFlag{
	Name:  "server",
	Usage: "Base URL of a running hashfill server; runs locally when empty",
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Open the configured backend and print its device",
		Flags: []cli.Flag{
			serverFlag,
			&cli.BoolFlag{Name: "json", Usage: "Print JSON instead of text"},
		},
		Action: func(c *cli.Context) error {
			var device client.DeviceResult
			if url := c.String("server"); url != "" {
				remote, err := client.New(url, nil).Device(c.Context)
				if err != nil {
					return err
				}
				device = *remote
			} else {
				manager, err := accel.NewManager(appConfig(c).Accelerator, appLogger(c))
				if err != nil {
					return err
				}
				defer manager.Close()
				device = client.DeviceResult{
					Backend:    manager.GetBackendType(),
					Device:     manager.GetDeviceInfo(),
					Capacities: manager.Capacities(),
				}
			}

			if c.Bool("json") {
				enc := json.NewEncoder(c.App.Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(device)
			}
			printDevice(c.App.Writer, device)
			return nil
		},
	}
}

func printDevice(w io.Writer, d client.DeviceResult) {
	fmt.Fprintf(w, "Backend:              %s\n", d.Backend)
	fmt.Fprintf(w, "Platform:             %s\n", d.Device.Platform)
	fmt.Fprintf(w, "Device:               %s\n", d.Device.Name)
	if d.Device.Vendor != "" {
		fmt.Fprintf(w, "Vendor:               %s\n", d.Device.Vendor)
	}
	if d.Device.Version != "" {
		fmt.Fprintf(w, "Version:              %s\n", d.Device.Version)
	}
	if d.Device.DriverVersion != "" {
		fmt.Fprintf(w, "Driver:               %s\n", d.Device.DriverVersion)
	}
	fmt.Fprintf(w, "Type:                 %s\n", d.Device.Type)
	fmt.Fprintf(w, "Compute units:        %d\n", d.Device.ComputeUnits)
	if d.Device.GlobalMemory > 0 {
		fmt.Fprintf(w, "Global memory:        %d MB\n", d.Device.GlobalMemory/(1024*1024))
	}
	if d.Device.MaxWorkGroupSize > 0 {
		fmt.Fprintf(w, "Max work group size:  %d\n", d.Device.MaxWorkGroupSize)
		fmt.Fprintf(w, "Queue profiling:      %t\n", d.Device.ProfilingSupported)
	}
	fmt.Fprintf(w, "Capacities:           input %d bytes, small %d words, large %d words\n",
		d.Capacities.Input, d.Capacities.Small, d.Capacities.Large)
}
