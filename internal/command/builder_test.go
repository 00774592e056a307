package command

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/nerrad567/poolfleet/internal/device"
	"github.com/nerrad567/poolfleet/internal/schema"
	"github.com/nerrad567/poolfleet/internal/schema/schematest"
)

func testCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	c, err := schema.NewCatalog(schematest.Files(), schematest.Config())
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	return c
}

func mustCommand(t *testing.T, c *schema.Catalog, fam device.Family, group, name string) schema.Command {
	t.Helper()
	cmd, ok := c.Command(fam, group, name)
	if !ok {
		t.Fatalf("command %s/%s not found", group, name)
	}
	return cmd
}

func fixedID(id string) BuilderOption {
	return WithIDGenerator(func() string { return id })
}

// decode parses env.Payload with the request schema and returns the
// command's parameter message.
func decode(t *testing.T, env *Envelope) (protoreflect.Message, protoreflect.Message) {
	t.Helper()
	req := dynamicpb.NewMessage(env.Command.Request)
	if err := proto.Unmarshal(env.Payload, req); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !proto.Equal(req, env.Message.Interface()) {
		t.Errorf("decoded request differs from built request")
	}
	holder := protoreflect.Message(req)
	if env.Command.GroupField != nil {
		if !req.Has(env.Command.GroupField) {
			t.Fatalf("group %s not present", env.Command.Group)
		}
		holder = req.Get(env.Command.GroupField).Message()
	}
	if !holder.Has(env.Command.Field) {
		t.Fatalf("command field %s not present", env.Command.Name)
	}
	return req, holder.Get(env.Command.Field).Message()
}

func get(m protoreflect.Message, name string) protoreflect.Value {
	return m.Get(m.Descriptor().Fields().ByName(protoreflect.Name(name)))
}

func has(m protoreflect.Message, name string) bool {
	return m.Has(m.Descriptor().Fields().ByName(protoreflect.Name(name)))
}

// ============================================================================
// Build
// ============================================================================

func TestBuild_SetLevel(t *testing.T) {
	c := testCatalog(t)
	cmd := mustCommand(t, c, device.FamilySanitizer, "sanitizer", "set_sanitizer_output_percentage")
	b := NewBuilder("command_uuid", fixedID("txn-1"))

	env, err := b.Build(cmd, map[string]string{"target_percentage": "42"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if env.ID != "txn-1" {
		t.Errorf("ID = %q, want txn-1", env.ID)
	}
	if len(env.Skipped) != 0 {
		t.Errorf("Skipped = %v, want none", env.Skipped)
	}

	req, params := decode(t, env)
	if got := get(req, "command_uuid").String(); got != "txn-1" {
		t.Errorf("command_uuid = %q, want txn-1", got)
	}
	if got := get(params, "target_percentage").Int(); got != 42 {
		t.Errorf("target_percentage = %d, want 42", got)
	}
}

func TestBuild_PermissiveCoercion(t *testing.T) {
	c := testCatalog(t)
	cmd := mustCommand(t, c, device.FamilySanitizer, "sanitizer", "set_sanitizer_output_percentage")

	env, err := NewBuilder("command_uuid").Build(cmd, map[string]string{"target_percentage": "lots"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(env.Skipped) != 1 || env.Skipped[0] != "target_percentage" {
		t.Errorf("Skipped = %v, want [target_percentage]", env.Skipped)
	}

	_, params := decode(t, env)
	if has(params, "target_percentage") {
		t.Error("target_percentage set despite unparseable input")
	}
}

func TestBuild_StrictCoercion(t *testing.T) {
	c := testCatalog(t)
	cmd := mustCommand(t, c, device.FamilySanitizer, "sanitizer", "set_sanitizer_output_percentage")

	_, err := NewBuilder("command_uuid", WithStrictCoercion(true)).Build(cmd, map[string]string{"target_percentage": "lots"})
	if !errors.Is(err, ErrCoercion) {
		t.Errorf("Build() error = %v, want ErrCoercion", err)
	}
}

func TestBuild_AllKinds(t *testing.T) {
	c := testCatalog(t)
	cmd := mustCommand(t, c, device.FamilyICL, "icl", "configure_channels")

	env, err := NewBuilder("command_uuid").Build(cmd, map[string]string{
		"channels": "1, 2 ,,3",
		"enabled":  "on,off,YES",
		"gain":     "3.14",
		"offset":   "-7",
		"token":    "tok",
		"labels":   "pool, spa",
		"trim":     "x",
		"ratio":    "0.5",
		"counter":  "-1",
		"mode":     "MODE_SOLID",
		"extra":    "key=value",
		"invert":   "YES",
		"unknown":  "ignored",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	wantSkipped := []string{"trim", "counter", "extra"}
	if len(env.Skipped) != len(wantSkipped) {
		t.Fatalf("Skipped = %v, want %v", env.Skipped, wantSkipped)
	}
	for i := range wantSkipped {
		if env.Skipped[i] != wantSkipped[i] {
			t.Errorf("Skipped[%d] = %s, want %s", i, env.Skipped[i], wantSkipped[i])
		}
	}

	_, p := decode(t, env)

	channels := get(p, "channels").List()
	if channels.Len() != 3 || channels.Get(0).Uint() != 1 || channels.Get(2).Uint() != 3 {
		t.Errorf("channels = %v, want [1 2 3]", channels)
	}
	enabled := get(p, "enabled").List()
	if enabled.Len() != 3 || !enabled.Get(0).Bool() || enabled.Get(1).Bool() || !enabled.Get(2).Bool() {
		t.Errorf("enabled = %v, want [true false true]", enabled)
	}
	labels := get(p, "labels").List()
	if labels.Len() != 2 || labels.Get(0).String() != "pool" || labels.Get(1).String() != "spa" {
		t.Errorf("labels = %v, want [pool spa]", labels)
	}
	if got := get(p, "gain").Float(); got != 3.14 {
		t.Errorf("gain = %v, want 3.14", got)
	}
	if got := get(p, "offset").Int(); got != -7 {
		t.Errorf("offset = %d, want -7", got)
	}
	if got := string(get(p, "token").Bytes()); got != "tok" {
		t.Errorf("token = %q, want tok", got)
	}
	if got := get(p, "ratio").Float(); got != 0.5 {
		t.Errorf("ratio = %v, want 0.5", got)
	}
	if got := get(p, "mode").Enum(); got != 1 {
		t.Errorf("mode = %d, want 1", got)
	}
	if !get(p, "invert").Bool() {
		t.Error("invert = false, want true")
	}
	for _, name := range []string{"trim", "counter", "extra", "extras"} {
		if has(p, name) {
			t.Errorf("%s set, want unset", name)
		}
	}
}

func TestBuild_RepeatedAllInvalid(t *testing.T) {
	c := testCatalog(t)
	cmd := mustCommand(t, c, device.FamilyICL, "icl", "configure_channels")

	env, err := NewBuilder("command_uuid").Build(cmd, map[string]string{"channels": "a, b"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	_, p := decode(t, env)
	if has(p, "channels") {
		t.Error("channels set despite every element failing to parse")
	}
}

func TestBuild_Marker(t *testing.T) {
	c := testCatalog(t)
	cmd := mustCommand(t, c, device.FamilyICL, "icl", "identify")

	env, err := NewBuilder("command_uuid").Build(cmd, map[string]string{"anything": "ignored"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(env.Skipped) != 0 {
		t.Errorf("Skipped = %v, want none for a marker", env.Skipped)
	}

	_, params := decode(t, env)
	if params.Descriptor().Fields().Len() != 0 {
		t.Fatal("identify is expected to have no parameters")
	}
}

func TestBuild_FreshTransactionIDs(t *testing.T) {
	c := testCatalog(t)
	b := NewBuilder("command_uuid")
	seen := make(map[string]bool)

	for _, fam := range []device.Family{device.FamilySanitizer, device.FamilyICL} {
		for _, cmd := range c.Commands(fam) {
			env, err := b.Build(cmd, nil)
			if err != nil {
				t.Fatalf("Build(%s) error = %v", cmd.Key(), err)
			}
			if _, err := uuid.Parse(env.ID); err != nil {
				t.Errorf("Build(%s) ID %q is not a UUID", cmd.Key(), env.ID)
			}
			if seen[env.ID] {
				t.Errorf("Build(%s) reused ID %s", cmd.Key(), env.ID)
			}
			seen[env.ID] = true

			req, _ := decode(t, env)
			if got := get(req, "command_uuid").String(); got != env.ID {
				t.Errorf("Build(%s) command_uuid = %q, want %q", cmd.Key(), got, env.ID)
			}
		}
	}
}

func TestBuild_InvalidCommand(t *testing.T) {
	_, err := NewBuilder("command_uuid").Build(schema.Command{Name: "x"}, nil)
	if !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Build() error = %v, want ErrInvalidCommand", err)
	}
}
