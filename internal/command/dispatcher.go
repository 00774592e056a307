package command

import (
	"errors"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/nerrad567/poolfleet/internal/device"
	"github.com/nerrad567/poolfleet/internal/router"
	"github.com/nerrad567/poolfleet/internal/schema"
)

// Publisher sends a payload on a topic. The MQTT client satisfies it and is
// safe to share between the API and every background sender.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Devices is the registry view the dispatcher needs for addressing.
type Devices interface {
	Identity(serial string) (device.Identity, bool)
	ResolveFamily(serial string) (device.Family, bool)
}

// LevelCommand names the command and parameter that set a device's
// target level.
type LevelCommand struct {
	Group     string
	Name      string
	Parameter string
}

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Builder   *Builder
	Catalog   *schema.Catalog
	Devices   Devices
	Publisher Publisher
	QoS       byte
	Level     LevelCommand
	Logger    Logger
}

// Dispatcher resolves a device's family and address, builds a command and
// publishes it to cmd/<category>/<serial>/req.
type Dispatcher struct {
	builder *Builder
	catalog *schema.Catalog
	devices Devices
	pub     Publisher
	qos     byte
	level   LevelCommand
	logger  Logger
}

// NewDispatcher validates opts and returns a Dispatcher. When opts.Level
// names a command, at least one family must define it and every family
// that does must carry the level parameter as a scalar field.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Builder == nil || opts.Catalog == nil || opts.Devices == nil {
		return nil, errors.New("command: builder, catalog and devices are required")
	}
	if opts.Publisher == nil {
		return nil, ErrNoPublisher
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("command: invalid qos %d", opts.QoS)
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	d := &Dispatcher{
		builder: opts.Builder,
		catalog: opts.Catalog,
		devices: opts.Devices,
		pub:     opts.Publisher,
		qos:     opts.QoS,
		level:   opts.Level,
		logger:  logger,
	}
	if opts.Level.Name != "" {
		if err := d.checkLevelCommand(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Dispatcher) checkLevelCommand() error {
	defined := false
	for _, fam := range d.catalog.Families() {
		_, _, err := d.levelCommand(fam.Name)
		switch {
		case errors.Is(err, ErrCommandNotFound):
			continue
		case err != nil:
			return err
		}
		defined = true
	}
	if !defined {
		return fmt.Errorf("%w: level command %s/%s is not defined by any family",
			ErrCommandNotFound, d.level.Group, d.level.Name)
	}
	return nil
}

// levelCommand returns fam's level command and its level parameter.
func (d *Dispatcher) levelCommand(fam device.Family) (schema.Command, protoreflect.FieldDescriptor, error) {
	cmd, ok := d.catalog.Command(fam, d.level.Group, d.level.Name)
	if !ok {
		return cmd, nil, fmt.Errorf("%w: level command %s/%s for family %s",
			ErrCommandNotFound, d.level.Group, d.level.Name, fam)
	}
	if cmd.Field == nil || cmd.Params() == nil {
		return cmd, nil, fmt.Errorf("%w: %s", ErrInvalidCommand, cmd.Key())
	}
	fd := cmd.Params().Fields().ByName(protoreflect.Name(d.level.Parameter))
	if fd == nil || fd.IsList() || fd.IsMap() || fd.Message() != nil {
		return cmd, nil, fmt.Errorf("%w: %s has no scalar parameter %q",
			ErrInvalidCommand, cmd.Key(), d.level.Parameter)
	}
	return cmd, fd, nil
}

// Commands lists the commands available to serial's family.
func (d *Dispatcher) Commands(serial string) (device.Family, []schema.Command, error) {
	fam, err := d.family(serial)
	if err != nil {
		return fam, nil, err
	}
	return fam, d.catalog.Commands(fam), nil
}

// Send builds the command group/name for serial from raw and publishes it.
func (d *Dispatcher) Send(serial, group, name string, raw map[string]string) (*Envelope, error) {
	id, ok := d.devices.Identity(serial)
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, serial)
	}
	fam, err := d.family(serial)
	if err != nil {
		return nil, err
	}

	cmd, ok := d.catalog.Command(fam, group, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s for family %s", ErrCommandNotFound, group, name, fam)
	}

	env, err := d.builder.Build(cmd, raw)
	if err != nil {
		return nil, err
	}
	if len(env.Skipped) > 0 {
		d.logger.Warn("command parameters left unset", "serial", serial, "command", cmd.Key(), "fields", env.Skipped)
	}

	env.Topic = router.CommandTopic(id.Category, serial)
	if err := d.pub.Publish(env.Topic, env.Payload, d.qos, false); err != nil {
		return env, fmt.Errorf("publishing %s to %s: %w", cmd.Key(), env.Topic, err)
	}

	d.logger.Debug("command published", "serial", serial, "command", cmd.Key(), "id", env.ID, "topic", env.Topic)
	return env, nil
}

// CheckLevel reports whether level can be carried by the level parameter
// of serial's level command. Nothing is published.
func (d *Dispatcher) CheckLevel(serial string, level int) error {
	fam, err := d.family(serial)
	if err != nil {
		return err
	}
	_, fd, err := d.levelCommand(fam)
	if err != nil {
		return err
	}
	if _, ok := Coerce(strconv.Itoa(level), fd); !ok {
		return fmt.Errorf("%w: %d does not fit %s (%s)", ErrLevelOutOfRange, level, fd.Name(), fd.Kind())
	}
	return nil
}

// SendLevel publishes the level command for serial. A level the schema
// cannot carry is rejected before anything is published, since the device
// would otherwise read the missing field as zero.
func (d *Dispatcher) SendLevel(serial string, level int) (*Envelope, error) {
	if err := d.CheckLevel(serial, level); err != nil {
		return nil, err
	}
	return d.Send(serial, d.level.Group, d.level.Name, map[string]string{
		d.level.Parameter: strconv.Itoa(level),
	})
}

func (d *Dispatcher) family(serial string) (device.Family, error) {
	fam, ok := d.devices.ResolveFamily(serial)
	if !ok {
		return fam, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, serial)
	}
	if _, ok := d.catalog.Family(fam); !ok {
		return fam, fmt.Errorf("%w: %s", device.ErrUnknownFamily, serial)
	}
	return fam, nil
}
