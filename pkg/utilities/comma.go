/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package utilities

import (
	"strings"
)

// A `pflag.Value` compatible Value that accepts a comma separated string
// and produces an array of strings. Empty entries are dropped.
type CommaValue struct {
	Value *[]string
}

func NewCommaValue(defaults ...string) CommaValue {
	value := append([]string(nil), defaults...)
	return CommaValue{Value: &value}
}

func (v CommaValue) String() string {
	if v.Value != nil {
		return strings.Join(*v.Value, ",")
	}
	return ""
}

func (v CommaValue) Set(s string) error {
	values := make([]string, 0)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			values = append(values, entry)
		}
	}
	*v.Value = values
	return nil
}

func (v CommaValue) Type() string {
	return "strings"
}
