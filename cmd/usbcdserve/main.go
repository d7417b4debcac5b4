// Command usbcdserve is the runnable wrapper around this module's
// registry/msd/usbredir stack, in the same spirit as cmd/tcmufile's
// minimal wrapper around go-tcmu: load a config, attach the emulated
// devices it describes, and drive a usbredir channel over whatever
// io.ReadWriter the transport subcommand hands it.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coreos/go-usbcd/config"
	"github.com/coreos/go-usbcd/registry"
	"github.com/coreos/go-usbcd/usbredir"
)

var (
	log = logrus.StandardLogger()

	root = &cobra.Command{
		Use:   "usbcdserve",
		Short: "Emulated USB Mass Storage CD/DVD device server",
	}

	cmdServe = &cobra.Command{
		Use:   "serve",
		Short: "Load a config file, attach its LUNs, and serve usbredir connections",
		RunE:  runServe,
	}

	cmdVersion = &cobra.Command{
		Use:   "version",
		Short: "Print the usbcdserve version",
		Run:   runVersion,
	}

	configPath string
)

// version is stamped at release time by the packaging pipeline; left at
// "dev" for a source checkout, mirroring mantle's own sdk.VERSION slot.
var version = "dev"

func init() {
	cmdServe.Flags().StringVar(&configPath, "config", "usbcd.yaml", "path to the LUN config file")
	root.AddCommand(cmdServe, cmdVersion)
}

func main() {
	logrus.SetLevel(logrus.InfoLevel)
	if err := root.Execute(); err != nil {
		die("%v", err)
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Println(version)
}

// hotplugLogger is the Hotplug sink this standalone server registers:
// spec.md §9 keeps the hotplug/bus-topology boundary external, so the
// CLI's own contribution is just to log what the registry reports.
type hotplugLogger struct{}

func (hotplugLogger) OnHotplug(added bool, dev *registry.Device) {
	if added {
		log.Infof("usbcdserve: attached %s serial=%s path=%s", dev.Handle, dev.Serial, dev.Path())
	} else {
		log.Infof("usbcdserve: detached %s", dev.Handle)
	}
}

func (hotplugLogger) OnDeviceChange(dev *registry.Device) {
	log.Infof("usbcdserve: media change on %s", dev.Handle)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	reg := registry.New(hotplugLogger{}, logrus.StandardLogger())
	log.Infof("usbcdserve: instance %s", reg.InstanceID)

	devices := make([]*registry.Device, 0, len(cfg.LUNs))
	for _, l := range cfg.LUNs {
		dev, err := reg.CreateEmulatedCD(registry.Params{
			Path:          l.Path,
			Vendor:        l.Vendor,
			Product:       l.Product,
			Version:       l.Version,
			ClaimVersion:  l.ClaimVersion,
			CDROM:         l.CDROM,
			DeleteOnEject: l.DeleteOnEject,
		})
		if err != nil {
			return fmt.Errorf("usbcdserve: attach %s: %w", l.Path, err)
		}
		devices = append(devices, dev)
	}

	listen := cfg.Listen
	if listen == "" {
		listen = "127.0.0.1:9000"
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("usbcdserve: listen %s: %w", listen, err)
	}
	defer ln.Close()
	log.Infof("usbcdserve: listening on %s", listen)

	mainClose := make(chan struct{})
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	go func() {
		<-signalChan
		log.Infof("usbcdserve: received interrupt, closing listener")
		close(mainClose)
		ln.Close()
	}()

	go acceptLoop(ln, reg, devices[0])

	<-mainClose
	return nil
}

// acceptLoop serves one usbredir channel per accepted connection. The
// first configured device is attached to every connection: the spec's
// usbredir transport is a single point-to-point channel per physical USB
// connection, so a real deployment with several LUNs would run one
// listener per device rather than multiplexing them here.
func acceptLoop(ln net.Listener, reg *registry.Registry, dev *registry.Device) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go serveConn(conn, reg, dev)
	}
}

func serveConn(conn net.Conn, reg *registry.Registry, dev *registry.Device) {
	defer conn.Close()

	c := usbredir.NewChannel(reg, dev, conn)
	if err := c.SendHello("usbcdserve 0"); err != nil {
		log.Errorf("usbcdserve: hello: %v", err)
		return
	}
	if err := c.Attach(); err != nil {
		log.Errorf("usbcdserve: attach: %v", err)
		return
	}

	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 64*1024)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			consumed, ferr := c.Feed(buf)
			if ferr != nil {
				log.Errorf("usbcdserve: feed: %v", ferr)
				return
			}
			buf = append([]byte(nil), buf[consumed:]...)
		}
		if err != nil {
			return
		}
	}
}

func die(why string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, why+"\n", args...)
	os.Exit(1)
}
