package codec

import (
	"fmt"
	"strconv"
)

// Bytes passes data through unmodified.
type Bytes struct{}

// Encode does a type conversion into []byte.
func (d *Bytes) Encode(value interface{}) ([]byte, error) {
	data, isByte := value.([]byte)
	if !isByte {
		return nil, fmt.Errorf("codec Bytes: value to encode is not of type []byte but %T", value)
	}
	return data, nil
}

// Decode returns the data as is.
func (d *Bytes) Decode(data []byte) (interface{}, error) {
	return data, nil
}

// String is a commonly used codec to encode and decode string <-> []byte.
type String struct{}

// Encode encodes from string to []byte.
func (c *String) Encode(value interface{}) ([]byte, error) {
	stringVal, isString := value.(string)
	if !isString {
		return nil, fmt.Errorf("codec String: value to encode is not of type string but %T", value)
	}
	return []byte(stringVal), nil
}

// Decode decodes from []byte to string.
func (c *String) Decode(data []byte) (interface{}, error) {
	return string(data), nil
}

// Int64 encodes and decodes int64 <-> []byte using a decimal string
// representation.
type Int64 struct{}

// Encode encodes from int64 to []byte.
func (c *Int64) Encode(value interface{}) ([]byte, error) {
	intVal, isInt := value.(int64)
	if !isInt {
		return nil, fmt.Errorf("codec Int64: value to encode is not of type int64 but %T", value)
	}
	return []byte(strconv.FormatInt(intVal, 10)), nil
}

// Decode decodes from []byte to int64.
func (c *Int64) Decode(data []byte) (interface{}, error) {
	intVal, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("codec Int64: error parsing data %q: %v", string(data), err)
	}
	return intVal, nil
}
