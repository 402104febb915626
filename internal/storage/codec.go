package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"faultsim/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var (
	ErrVersionMismatch = errors.New("record version mismatch")
	ErrCorruptWeights  = errors.New("corrupt weight snapshot")
	errNotInitialized  = errors.New("store is not initialized")
)

func validateRun(run model.RunRecord) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	return checkVersion(run.VersionedRecord)
}

func EncodeRun(run model.RunRecord) ([]byte, error) {
	return json.Marshal(run)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

// Weight snapshots use protobuf wire format without generated code:
//
//	snapshot { uint64 codec_version = 1; repeated tensor tensors = 2; }
//	tensor   { string name = 1; repeated int64 shape = 2 [packed];
//	           int64 tag = 3; repeated double values = 4 [packed]; }
const (
	snapshotCodecField  protowire.Number = 1
	snapshotTensorField protowire.Number = 2

	tensorNameField   protowire.Number = 1
	tensorShapeField  protowire.Number = 2
	tensorTagField    protowire.Number = 3
	tensorValuesField protowire.Number = 4
)

func EncodeWeights(weights []model.TensorSnapshot) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, snapshotCodecField, protowire.VarintType)
	b = protowire.AppendVarint(b, CurrentCodecVersion)
	for _, snap := range weights {
		if err := checkSnapshot(snap); err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, snapshotTensorField, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeTensor(snap))
	}
	return b, nil
}

func encodeTensor(snap model.TensorSnapshot) []byte {
	var b []byte
	b = protowire.AppendTag(b, tensorNameField, protowire.BytesType)
	b = protowire.AppendString(b, snap.Name)

	var shape []byte
	for _, dim := range snap.Shape {
		shape = protowire.AppendVarint(shape, uint64(dim))
	}
	b = protowire.AppendTag(b, tensorShapeField, protowire.BytesType)
	b = protowire.AppendBytes(b, shape)

	b = protowire.AppendTag(b, tensorTagField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(snap.Tag))

	values := make([]byte, 0, 8*len(snap.Values))
	for _, v := range snap.Values {
		values = protowire.AppendFixed64(values, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, tensorValuesField, protowire.BytesType)
	b = protowire.AppendBytes(b, values)
	return b
}

func DecodeWeights(data []byte) ([]model.TensorSnapshot, error) {
	var (
		out     []model.TensorSnapshot
		version uint64
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrCorruptWeights, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == snapshotCodecField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrCorruptWeights, protowire.ParseError(n))
			}
			version = v
			data = data[n:]
		case num == snapshotTensorField && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrCorruptWeights, protowire.ParseError(n))
			}
			snap, err := decodeTensor(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, snap)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrCorruptWeights, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if version != CurrentCodecVersion {
		return nil, ErrVersionMismatch
	}
	return out, nil
}

func decodeTensor(data []byte) (model.TensorSnapshot, error) {
	var snap model.TensorSnapshot
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return model.TensorSnapshot{}, fmt.Errorf("%w: %v", ErrCorruptWeights, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == tensorNameField && typ == protowire.BytesType:
			name, n := protowire.ConsumeString(data)
			if n < 0 {
				return model.TensorSnapshot{}, fmt.Errorf("%w: %v", ErrCorruptWeights, protowire.ParseError(n))
			}
			snap.Name = name
			data = data[n:]
		case num == tensorShapeField && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return model.TensorSnapshot{}, fmt.Errorf("%w: %v", ErrCorruptWeights, protowire.ParseError(n))
			}
			for len(packed) > 0 {
				dim, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return model.TensorSnapshot{}, fmt.Errorf("%w: %v", ErrCorruptWeights, protowire.ParseError(m))
				}
				snap.Shape = append(snap.Shape, int(dim))
				packed = packed[m:]
			}
			data = data[n:]
		case num == tensorTagField && typ == protowire.VarintType:
			tag, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return model.TensorSnapshot{}, fmt.Errorf("%w: %v", ErrCorruptWeights, protowire.ParseError(n))
			}
			snap.Tag = model.Tag(tag)
			data = data[n:]
		case num == tensorValuesField && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return model.TensorSnapshot{}, fmt.Errorf("%w: %v", ErrCorruptWeights, protowire.ParseError(n))
			}
			if len(packed)%8 != 0 {
				return model.TensorSnapshot{}, fmt.Errorf("%w: %s values are not whole doubles", ErrCorruptWeights, snap.Name)
			}
			snap.Values = make([]float64, 0, len(packed)/8)
			for len(packed) > 0 {
				bits, m := protowire.ConsumeFixed64(packed)
				if m < 0 {
					return model.TensorSnapshot{}, fmt.Errorf("%w: %v", ErrCorruptWeights, protowire.ParseError(m))
				}
				snap.Values = append(snap.Values, math.Float64frombits(bits))
				packed = packed[m:]
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return model.TensorSnapshot{}, fmt.Errorf("%w: %v", ErrCorruptWeights, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if err := checkSnapshot(snap); err != nil {
		return model.TensorSnapshot{}, fmt.Errorf("%w: %v", ErrCorruptWeights, err)
	}
	return snap, nil
}

func checkSnapshot(snap model.TensorSnapshot) error {
	if snap.Name == "" {
		return errors.New("tensor name is required")
	}
	size := 1
	for _, dim := range snap.Shape {
		if dim <= 0 {
			return fmt.Errorf("tensor %s: invalid shape %v", snap.Name, snap.Shape)
		}
		size *= dim
	}
	if size != len(snap.Values) {
		return fmt.Errorf("tensor %s: shape %v needs %d values, got %d", snap.Name, snap.Shape, size, len(snap.Values))
	}
	return nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
