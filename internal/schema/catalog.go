package schema

import (
	"fmt"
	"os"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/nerrad567/poolfleet/internal/device"
	"github.com/nerrad567/poolfleet/internal/infrastructure/config"
)

// Resolver finds descriptors by full name. *protoregistry.Files satisfies it.
type Resolver interface {
	FindDescriptorByName(name protoreflect.FullName) (protoreflect.Descriptor, error)
}

// IdentityFields names the announcement fields that carry identity.
type IdentityFields struct {
	Serial      protoreflect.Name
	Category    protoreflect.Name
	ProductName protoreflect.Name
}

// Family holds the message descriptors that apply to one device family.
// Telemetry and CommandResponse are nil when the family has none.
type Family struct {
	Name            device.Family
	Keywords        []string
	Telemetry       protoreflect.MessageDescriptor
	CommandResponse protoreflect.MessageDescriptor
	Commands        []Command
}

// Catalog is the resolved set of descriptors the service works with.
// It is immutable after construction and safe for concurrent use.
type Catalog struct {
	announcement protoreflect.MessageDescriptor
	info         protoreflect.MessageDescriptor
	deviceError  protoreflect.MessageDescriptor
	identity     IdentityFields
	txnField     protoreflect.Name

	families map[device.Family]*Family
	order    []device.Family
}

// Load reads the descriptor set named by cfg and builds a Catalog.
func Load(cfg config.SchemaConfig) (*Catalog, error) {
	data, err := os.ReadFile(cfg.DescriptorSet)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrDescriptorSet, cfg.DescriptorSet, err)
	}

	files, err := ParseDescriptorSet(data)
	if err != nil {
		return nil, err
	}

	return NewCatalog(files, cfg)
}

// ParseDescriptorSet decodes a serialized FileDescriptorSet. The set must
// be self-contained (protoc --include_imports).
func ParseDescriptorSet(data []byte) (*protoregistry.Files, error) {
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDescriptorSet, err)
	}

	files, err := protodesc.NewFiles(&set)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDescriptorSet, err)
	}
	return files, nil
}

// NewCatalog resolves every message named in cfg against files.
func NewCatalog(files Resolver, cfg config.SchemaConfig) (*Catalog, error) {
	c := &Catalog{
		identity: IdentityFields{
			Serial:      protoreflect.Name(cfg.Identity.Serial),
			Category:    protoreflect.Name(cfg.Identity.Category),
			ProductName: protoreflect.Name(cfg.Identity.ProductName),
		},
		txnField: protoreflect.Name(cfg.TransactionField),
		families: make(map[device.Family]*Family, len(cfg.Families)),
	}

	var err error
	if c.announcement, err = findMessage(files, cfg.Announcement); err != nil {
		return nil, fmt.Errorf("announcement: %w", err)
	}
	if c.announcement == nil {
		return nil, fmt.Errorf("announcement: %w: no message configured", ErrMessageNotFound)
	}
	if err := c.checkIdentity(); err != nil {
		return nil, err
	}
	if c.info, err = findMessage(files, cfg.Info); err != nil {
		return nil, fmt.Errorf("info: %w", err)
	}
	if c.deviceError, err = findMessage(files, cfg.DeviceError); err != nil {
		return nil, fmt.Errorf("device_error: %w", err)
	}

	for _, fc := range cfg.Families {
		fam, err := buildFamily(files, fc)
		if err != nil {
			return nil, fmt.Errorf("family %s: %w", fc.Name, err)
		}
		c.families[fam.Name] = fam
		c.order = append(c.order, fam.Name)
	}

	return c, nil
}

func (c *Catalog) checkIdentity() error {
	fields := c.announcement.Fields()
	for _, name := range []protoreflect.Name{c.identity.Serial, c.identity.Category, c.identity.ProductName} {
		if name == "" {
			continue
		}
		fd := fields.ByName(name)
		if fd == nil || fd.Kind() != protoreflect.StringKind || fd.IsList() {
			return fmt.Errorf("%w: %s.%s must be a singular string", ErrInvalidIdentity, c.announcement.FullName(), name)
		}
	}
	return nil
}

func buildFamily(files Resolver, fc config.FamilyConfig) (*Family, error) {
	fam := &Family{
		Name:     device.Family(fc.Name),
		Keywords: append([]string(nil), fc.Keywords...),
	}

	var err error
	if fam.Telemetry, err = findMessage(files, fc.Telemetry); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if fam.CommandResponse, err = findMessage(files, fc.CommandResponse); err != nil {
		return nil, fmt.Errorf("command_response: %w", err)
	}

	for _, src := range fc.Commands {
		req, err := findMessage(files, src.Request)
		if err != nil {
			return nil, fmt.Errorf("commands: %w", err)
		}
		if req == nil {
			return nil, fmt.Errorf("commands: %w: empty request name", ErrMessageNotFound)
		}
		cmds, err := commandsOf(req, protoreflect.Name(src.Group))
		if err != nil {
			return nil, err
		}
		fam.Commands = append(fam.Commands, cmds...)
	}

	return fam, nil
}

// findMessage returns nil, nil for an empty name.
func findMessage(files Resolver, name string) (protoreflect.MessageDescriptor, error) {
	if name == "" {
		return nil, nil
	}
	d, err := files.FindDescriptorByName(protoreflect.FullName(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, name)
	}
	md, ok := d.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a message", ErrMessageNotFound, name)
	}
	return md, nil
}

// Announcement returns the announcement message descriptor.
func (c *Catalog) Announcement() protoreflect.MessageDescriptor { return c.announcement }

// Info returns the info-response descriptor, or nil if none is configured.
func (c *Catalog) Info() protoreflect.MessageDescriptor { return c.info }

// DeviceError returns the device error descriptor, or nil if none is configured.
func (c *Catalog) DeviceError() protoreflect.MessageDescriptor { return c.deviceError }

// IdentityFields returns the announcement field names carrying identity.
func (c *Catalog) IdentityFields() IdentityFields { return c.identity }

// TransactionField returns the request field that carries the transaction id.
func (c *Catalog) TransactionField() protoreflect.Name { return c.txnField }

// Family returns the schemas for f.
func (c *Catalog) Family(f device.Family) (*Family, bool) {
	fam, ok := c.families[f]
	return fam, ok
}

// Families returns all configured families in configuration order.
func (c *Catalog) Families() []*Family {
	out := make([]*Family, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.families[name])
	}
	return out
}

// Telemetry returns the telemetry descriptor for f.
func (c *Catalog) Telemetry(f device.Family) (protoreflect.MessageDescriptor, bool) {
	fam, ok := c.families[f]
	if !ok || fam.Telemetry == nil {
		return nil, false
	}
	return fam.Telemetry, true
}

// CommandResponse returns the command-response descriptor for f.
func (c *Catalog) CommandResponse(f device.Family) (protoreflect.MessageDescriptor, bool) {
	fam, ok := c.families[f]
	if !ok || fam.CommandResponse == nil {
		return nil, false
	}
	return fam.CommandResponse, true
}

// Commands returns the commands available to f in declaration order.
func (c *Catalog) Commands(f device.Family) []Command {
	fam, ok := c.families[f]
	if !ok {
		return nil
	}
	return fam.Commands
}

// Command finds a command of f by group and name.
func (c *Catalog) Command(f device.Family, group, name string) (Command, bool) {
	for _, cmd := range c.Commands(f) {
		if string(cmd.Group) == group && string(cmd.Name) == name {
			return cmd, true
		}
	}
	return Command{}, false
}

// Rules returns the family classification rules in configuration order.
func (c *Catalog) Rules() []device.FamilyRule {
	rules := make([]device.FamilyRule, 0, len(c.order))
	for _, fam := range c.Families() {
		rules = append(rules, device.FamilyRule{Family: fam.Name, Keywords: fam.Keywords})
	}
	return rules
}
