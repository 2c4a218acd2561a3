package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roihuvaara/greeclimate/pkg/gree"
)

var (
	targetMAC string
	targetIP  string
	cfgFile   string
	verbose   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&targetMAC, "mac", "", "MAC address of a remembered device")
	rootCmd.PersistentFlags().StringVar(&targetIP, "ip", "", "IP address of the device")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.greectl.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log protocol traffic")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(bindCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setCmd)
}

func newClient(cfg *cliConfig) *gree.Client {
	var opts []gree.Option
	if verbose {
		opts = append(opts, gree.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	}
	opts = append(opts, timeoutOption(cfg.Timeouts.Discovery, gree.WithDiscoveryTimeout)...)
	opts = append(opts, timeoutOption(cfg.Timeouts.Bind, gree.WithBindTimeout)...)
	opts = append(opts, timeoutOption(cfg.Timeouts.Request, gree.WithRequestTimeout)...)

	client, err := gree.NewClient(opts...)
	if err != nil {
		fmt.Printf("Error creating client: %v\n", err)
		os.Exit(1)
	}
	return client
}

func timeoutOption(s string, opt func(time.Duration) gree.Option) []gree.Option {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		fmt.Printf("Invalid timeout %q in config: %v\n", s, err)
		os.Exit(1)
	}
	return []gree.Option{opt(d)}
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover Gree devices on the network",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		client := newClient(cfg)
		defer client.Close()

		fmt.Println("Discovering devices...")
		devices, err := client.Scan(context.Background(), cfg.Broadcast...)
		if err != nil {
			fmt.Printf("Error discovering: %v\n", err)
			os.Exit(1)
		}
		if len(devices) == 0 {
			fmt.Println("No devices found.")
			return
		}

		for _, dev := range devices {
			cipher := "ECB"
			if dev.SupportsModernCipher {
				cipher = "GCM"
			}
			fmt.Printf("Found %s (%s) at %s:%d, firmware %s, cipher %s\n",
				dev.Name, dev.MAC, dev.IP, dev.Port, dev.Version, cipher)

			entry := cfg.Devices[dev.MAC]
			entry.IP = dev.IP
			entry.Port = dev.Port
			entry.Name = dev.Name
			entry.Version = dev.Version
			entry.Modern = dev.SupportsModernCipher
			cfg.Devices[dev.MAC] = entry
		}
		saveConfig(cfg)
	},
}

var bindCmd = &cobra.Command{
	Use:   "bind",
	Short: "Exchange keys with a device and remember them",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		identity := resolveIdentity(cfg)

		client := newClient(cfg)
		defer client.Close()

		session, err := client.Bind(context.Background(), identity)
		if err != nil {
			fmt.Printf("Error binding to %s: %v\n", identity.String(), err)
			os.Exit(1)
		}
		defer session.Close()

		entry := cfg.Devices[identity.MAC]
		entry.IP = identity.IP
		entry.Port = identity.Port
		entry.Key = session.Key()
		cfg.Devices[identity.MAC] = entry
		saveConfig(cfg)

		fmt.Printf("Bound to %s, key stored in %s\n", identity.String(), configPath())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current state of a device",
	Run: func(cmd *cobra.Command, args []string) {
		client, session := openSession()
		defer client.Close()
		defer session.Close()

		awhp, _ := cmd.Flags().GetBool("awhp")
		if awhp {
			printAwhpStatus(client, session)
			return
		}

		dev := gree.NewDevice(client, session)
		if err := dev.UpdateState(context.Background()); err != nil {
			fmt.Printf("Error reading state: %v\n", err)
			os.Exit(1)
		}

		powerStr := "OFF"
		if dev.Power() {
			powerStr = "ON"
		}
		modeStr := "AUTO"
		switch dev.Mode() {
		case gree.ModeCool:
			modeStr = "COOL"
		case gree.ModeDry:
			modeStr = "DRY"
		case gree.ModeFan:
			modeStr = "FAN"
		case gree.ModeHeat:
			modeStr = "HEAT"
		}

		setpoint, _ := dev.TargetTemperature()
		current, _ := dev.CurrentTemperature()
		fmt.Printf("Power=%s, Mode=%s, Temp=%d, Setpoint=%d, Fan=%d\n",
			powerStr, modeStr, current, setpoint, dev.FanSpeed())
		if dev.Version() != "" {
			fmt.Printf("Firmware: %s\n", dev.Version())
		}
	},
}

func printAwhpStatus(client *gree.Client, session *gree.Session) {
	dev := gree.NewAwhpDevice(client, session)
	if err := dev.UpdateState(context.Background()); err != nil {
		fmt.Printf("Error reading state: %v\n", err)
		os.Exit(1)
	}

	powerStr := "OFF"
	if dev.Power() {
		powerStr = "ON"
	}
	fmt.Printf("Power=%s, HeatSetpoint=%d, HotWaterSetpoint=%d\n",
		powerStr, dev.HeatTempSet(), dev.HotWaterTempSet())
	if out, ok := dev.WaterOutTemp(); ok {
		fmt.Printf("Water out: %.1fC\n", out)
	}
	if in, ok := dev.WaterInTemp(); ok {
		fmt.Printf("Water in: %.1fC\n", in)
	}
	if tank, ok := dev.HotWaterTemp(); ok {
		fmt.Printf("Hot water tank: %.1fC\n", tank)
	}
	if dev.ErrorCode() != 0 {
		fmt.Printf("Error code: %d\n", dev.ErrorCode())
	}
}

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Change device settings",
	Run: func(cmd *cobra.Command, args []string) {
		client, session := openSession()
		defer client.Close()
		defer session.Close()

		dev := gree.NewDevice(client, session)

		if powerStr, _ := cmd.Flags().GetString("power"); powerStr != "" {
			dev.SetPower(powerStr == "on")
		}
		if modeStr, _ := cmd.Flags().GetString("mode"); modeStr != "" {
			m := gree.ModeAuto
			switch modeStr {
			case "cool":
				m = gree.ModeCool
			case "dry":
				m = gree.ModeDry
			case "fan":
				m = gree.ModeFan
			case "heat":
				m = gree.ModeHeat
			}
			dev.SetMode(m)
		}
		if cmd.Flags().Changed("temp") {
			temp, _ := cmd.Flags().GetInt("temp")
			if err := dev.SetTargetTemperature(temp); err != nil {
				fmt.Printf("Invalid temperature: %v\n", err)
				os.Exit(1)
			}
		}
		if cmd.Flags().Changed("fan") {
			fan, _ := cmd.Flags().GetInt("fan")
			if fan < 0 || fan > 5 {
				fmt.Printf("Invalid fan speed %d: must be 0-5\n", fan)
				os.Exit(1)
			}
			dev.SetFanSpeed(gree.FanSpeed(fan))
		}
		if cmd.Flags().Changed("quiet") {
			quiet, _ := cmd.Flags().GetBool("quiet")
			dev.SetQuiet(quiet)
		}
		if cmd.Flags().Changed("turbo") {
			turbo, _ := cmd.Flags().GetBool("turbo")
			dev.SetTurbo(turbo)
		}
		if cmd.Flags().Changed("light") {
			light, _ := cmd.Flags().GetBool("light")
			dev.SetLight(light)
		}

		if err := dev.PushStateUpdate(context.Background()); err != nil {
			fmt.Printf("Error sending command: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Command sent successfully.")
	},
}

func init() {
	statusCmd.Flags().Bool("awhp", false, "Device is a Versati air-water heat pump")

	setCmd.Flags().String("power", "", "Power state (on, off)")
	setCmd.Flags().String("mode", "", "Mode (auto, cool, dry, fan, heat)")
	setCmd.Flags().Int("temp", 0, "Temperature setpoint")
	setCmd.Flags().Int("fan", 0, "Fan speed (0=auto, 1-5)")
	setCmd.Flags().Bool("quiet", false, "Quiet mode")
	setCmd.Flags().Bool("turbo", false, "Turbo mode")
	setCmd.Flags().Bool("light", false, "Display light")
}

// resolveIdentity builds a device identity from the flags and the config.
func resolveIdentity(cfg *cliConfig) gree.DeviceIdentity {
	if targetMAC != "" {
		entry, ok := cfg.Devices[targetMAC]
		if !ok {
			fmt.Printf("Unknown device %s. Run discover first.\n", targetMAC)
			os.Exit(1)
		}
		return gree.DeviceIdentity{
			IP:                   entry.IP,
			Port:                 entry.Port,
			MAC:                  targetMAC,
			Name:                 entry.Name,
			Version:              entry.Version,
			SupportsModernCipher: entry.Modern,
		}
	}
	if targetIP != "" {
		for mac, entry := range cfg.Devices {
			if entry.IP == targetIP {
				return gree.DeviceIdentity{
					IP:                   entry.IP,
					Port:                 entry.Port,
					MAC:                  mac,
					Name:                 entry.Name,
					Version:              entry.Version,
					SupportsModernCipher: entry.Modern,
				}
			}
		}
		return gree.DeviceIdentity{IP: targetIP, Port: 7000}
	}
	fmt.Println("Device required. Use --mac or --ip, or run discover first.")
	os.Exit(1)
	return gree.DeviceIdentity{}
}

// openSession connects to the selected device, reusing a stored key when
// one exists and binding fresh otherwise.
func openSession() (*gree.Client, *gree.Session) {
	cfg := loadConfig()
	identity := resolveIdentity(cfg)
	client := newClient(cfg)

	if entry, ok := cfg.Devices[identity.MAC]; ok && entry.Key != "" {
		session, err := client.SessionFromKey(identity, entry.Key)
		if err != nil {
			fmt.Printf("Stored key for %s is invalid: %v\n", identity.String(), err)
			os.Exit(1)
		}
		return client, session
	}

	session, err := client.Bind(context.Background(), identity)
	if err != nil {
		fmt.Printf("Error binding to %s: %v\n", identity.String(), err)
		os.Exit(1)
	}

	entry := cfg.Devices[identity.MAC]
	entry.IP = identity.IP
	entry.Port = identity.Port
	entry.Key = session.Key()
	cfg.Devices[identity.MAC] = entry
	saveConfig(cfg)
	return client, session
}
