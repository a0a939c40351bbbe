package record

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const launchAgentXML = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>com.example.agent</string>
	<key>ProgramArguments</key>
	<array>
		<string>/usr/local/bin/agent</string>
		<string>--serve</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>Nice</key>
	<integer>-5</integer>
	<key>Payload</key>
	<data>
	SGVs
	bG8=
	</data>
</dict>
</plist>
`

func sampleMapping() Value {
	inner := NewMapping()
	inner.Set("SuccessfulExit", Bool(false))
	inner.Set("Crashed", Bool(true))

	m := NewMapping()
	m.Set("Label", String("com.example.agent"))
	m.Set("ProgramArguments", Array(String("/usr/local/bin/agent"), String("--serve")))
	m.Set("KeepAlive", MappingValue(inner))
	m.Set("ThrottleInterval", Integer(30))
	m.Set("Weight", Real(0.5))
	m.Set("Blob", Data([]byte{0, 1, 2, 255}))
	m.Set("Created", Date(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
	m.Set("Zeta", String("last"))
	m.Set("Alpha", String("after zeta"))
	return MappingValue(m)
}

func TestDecode_XML(t *testing.T) {
	v, err := Decode([]byte(launchAgentXML))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	m, ok := v.Mapping()
	if !ok {
		t.Fatalf("root kind = %s, want mapping", v.Kind())
	}
	wantKeys := []string{"Label", "ProgramArguments", "RunAtLoad", "Nice", "Payload"}
	gotKeys := m.Keys()
	if strings.Join(gotKeys, ",") != strings.Join(wantKeys, ",") {
		t.Errorf("keys = %v, want %v", gotKeys, wantKeys)
	}

	label, _ := v.Lookup("Label")
	if s, ok := label.AsString(); !ok || s != "com.example.agent" {
		t.Errorf("Label = %q (%v), want com.example.agent", s, ok)
	}
	args, _ := v.Lookup("ProgramArguments")
	if args.Len() != 2 {
		t.Fatalf("ProgramArguments len = %d, want 2", args.Len())
	}
	nice, _ := v.Lookup("Nice")
	if n, ok := nice.AsInteger(); !ok || n != -5 {
		t.Errorf("Nice = %d, want -5", n)
	}
	payload, _ := v.Lookup("Payload")
	if payload.Kind() != KindData {
		t.Fatalf("Payload kind = %s, want data", payload.Kind())
	}
	if _, ok := payload.AsString(); ok {
		t.Error("data blob must not be readable as string without explicit conversion")
	}
	b, _ := payload.AsData()
	if string(b) != "Hello" {
		t.Errorf("Payload bytes = %q, want Hello", b)
	}
}

func TestDecode_BinaryRoundTrip(t *testing.T) {
	orig := sampleMapping()
	data, err := EncodeBinary(orig)
	if err != nil {
		t.Fatalf("EncodeBinary failed: %v", err)
	}
	if Detect(data) != FormatBinary {
		t.Fatalf("Detect = %s, want binary", Detect(data))
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !got.Equal(orig) {
		t.Errorf("binary round trip mismatch")
	}
	m, _ := got.Mapping()
	keys := m.Keys()
	if keys[len(keys)-2] != "Zeta" || keys[len(keys)-1] != "Alpha" {
		t.Errorf("insertion order lost: %v", keys)
	}
}

func TestDecode_XMLRoundTrip(t *testing.T) {
	orig := sampleMapping()
	data, err := EncodeXML(orig)
	if err != nil {
		t.Fatalf("EncodeXML failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v\n%s", err, data)
	}
	if !got.Equal(orig) {
		t.Errorf("xml round trip mismatch:\n%s", data)
	}
}

func TestDecode_BinaryUnicodeAndLargeCounts(t *testing.T) {
	items := make([]Value, 0, 300)
	for i := 0; i < 300; i++ {
		items = append(items, Integer(int64(i*1000)))
	}
	m := NewMapping()
	m.Set("Name", String("café ☕"))
	m.Set("Numbers", Array(items...))
	m.Set("Negative", Integer(-42))
	orig := MappingValue(m)

	data, err := EncodeBinary(orig)
	if err != nil {
		t.Fatalf("EncodeBinary failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !got.Equal(orig) {
		t.Error("round trip mismatch for unicode / wide reference plist")
	}
}

func TestDecode_Malformed(t *testing.T) {
	valid, err := EncodeBinary(sampleMapping())
	if err != nil {
		t.Fatalf("EncodeBinary failed: %v", err)
	}

	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"unknown header", []byte("just some text")},
		{"magic only", []byte("bplist00")},
		{"truncated binary", valid[:len(valid)/2]},
		{"xml duplicate key", []byte(`<plist><dict><key>A</key><string>1</string><key>A</key><string>2</string></dict></plist>`)},
		{"xml unterminated", []byte(`<plist><dict><key>A</key><string>1</string>`)},
		{"xml key without value", []byte(`<plist><dict><key>A</key></dict></plist>`)},
		{"xml bad integer", []byte(`<plist><integer>12x</integer></plist>`)},
		{"xml unknown element", []byte(`<plist><widget/></plist>`)},
		{"xml bad base64", []byte(`<plist><data>!!!</data></plist>`)},
		{"xml two roots", []byte(`<plist><string>a</string></plist><string>b</string>`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			if !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("Decode error = %v, want ErrMalformedRecord", err)
			}
		})
	}
}

func TestDecode_BinaryDuplicateKey(t *testing.T) {
	m := NewMapping()
	m.Set("Label", String("a"))
	m.Set("Other", String("b"))
	data, err := EncodeBinary(MappingValue(m))
	if err != nil {
		t.Fatalf("EncodeBinary failed: %v", err)
	}
	// The second key string object is "Other"; rewrite it in place to "Label".
	idx := strings.Index(string(data), "Other")
	if idx < 1 {
		t.Fatal("key string not found in encoded plist")
	}
	copy(data[idx-1:], append([]byte{0x55}, []byte("Label")...))

	_, err = Decode(data)
	if !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("Decode error = %v, want ErrMalformedRecord", err)
	}
}

func TestDecode_DepthExceeded(t *testing.T) {
	v := String("leaf")
	for i := 0; i < 10; i++ {
		v = Array(v)
	}

	bin, err := EncodeBinary(v)
	if err != nil {
		t.Fatalf("EncodeBinary failed: %v", err)
	}
	xmlDoc, err := EncodeXML(v)
	if err != nil {
		t.Fatalf("EncodeXML failed: %v", err)
	}

	dec := NewDecoder(5)
	if _, err := dec.Decode(bin); !errors.Is(err, ErrDepthExceeded) {
		t.Errorf("binary: error = %v, want ErrDepthExceeded", err)
	}
	if _, err := dec.Decode(xmlDoc); !errors.Is(err, ErrDepthExceeded) {
		t.Errorf("xml: error = %v, want ErrDepthExceeded", err)
	}

	if _, err := NewDecoder(20).Decode(bin); err != nil {
		t.Errorf("limit 20 should accept depth 10: %v", err)
	}
}

func TestDecode_BinaryCycle(t *testing.T) {
	tests := []struct {
		name    string
		objects [][]byte
	}{
		{"self", [][]byte{{0xA1, 0}}},
		{"through child", [][]byte{{0xA1, 1}, {0xA2, 2, 0}, {0x09}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(handBuiltPlist(tt.objects...))
			if !errors.Is(err, ErrDepthExceeded) {
				t.Errorf("Decode error = %v, want ErrDepthExceeded", err)
			}
		})
	}
}

// handBuiltPlist assembles a binary plist from raw objects using one-byte
// offsets and references. Object 0 is the top object.
func handBuiltPlist(objects ...[]byte) []byte {
	doc := []byte("bplist00")
	offsets := make([]byte, 0, len(objects))
	for _, obj := range objects {
		offsets = append(offsets, byte(len(doc)))
		doc = append(doc, obj...)
	}
	tableOffset := len(doc)
	doc = append(doc, offsets...)
	trailer := make([]byte, 32)
	trailer[6] = 1
	trailer[7] = 1
	trailer[15] = byte(len(objects))
	trailer[31] = byte(tableOffset)
	return append(doc, trailer...)
}

// sharedRefsPlist returns a plist where object i is the array [i+1, i+1]
// for i < levels and the last object is true. Expanded, the tree holds
// 2^(levels+1)-1 nodes.
func sharedRefsPlist(levels int) []byte {
	objects := make([][]byte, 0, levels+1)
	for i := 0; i < levels; i++ {
		objects = append(objects, []byte{0xA2, byte(i + 1), byte(i + 1)})
	}
	return handBuiltPlist(append(objects, []byte{0x09})...)
}

func TestDecode_BinarySharedReferences(t *testing.T) {
	v, err := Decode(sharedRefsPlist(8))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	for i := 0; i < 8; i++ {
		items := v.Items()
		if len(items) != 2 {
			t.Fatalf("level %d: got %s with %d items, want array of 2", i, v.Kind(), len(items))
		}
		if !items[0].Equal(items[1]) {
			t.Fatalf("level %d: shared elements differ", i)
		}
		v = items[1]
	}
	if b, ok := v.AsBool(); !ok || !b {
		t.Errorf("leaf kind %s, want true", v.Kind())
	}
}

func TestDecode_BinaryExpansionLimit(t *testing.T) {
	done := make(chan error, 1)
	go func() {
		_, err := Decode(sharedRefsPlist(40))
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("Decode error = %v, want ErrMalformedRecord", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Decode did not finish on a plist of repeated shared references")
	}
}

func TestDecode_SharedReferenceDepth(t *testing.T) {
	// Object 2 is first reached at depth 1, then again at depth 2 through
	// object 1, which puts its child at depth 3.
	doc := handBuiltPlist(
		[]byte{0xA2, 2, 1},
		[]byte{0xA1, 2},
		[]byte{0xA1, 3},
		[]byte{0x09},
	)

	if _, err := NewDecoder(3).Decode(doc); err != nil {
		t.Errorf("limit 3: %v", err)
	}
	if _, err := NewDecoder(2).Decode(doc); !errors.Is(err, ErrDepthExceeded) {
		t.Errorf("limit 2: error = %v, want ErrDepthExceeded", err)
	}
}

func TestEncodeXML_NullUnencodable(t *testing.T) {
	_, err := EncodeXML(Array(Null()))
	if !errors.Is(err, ErrUnencodable) {
		t.Errorf("error = %v, want ErrUnencodable", err)
	}
}
