// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2015 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package testutil

import (
	"bytes"
	"fmt"
	"os"
	"reflect"
	"strings"

	"gopkg.in/check.v1"
)

type containsChecker struct {
	*check.CheckerInfo
}

// Contains is a Checker that looks for a needle in a haystack.
// The needle can be any object. The haystack can be an array, slice, map
// or string.
var Contains check.Checker = &containsChecker{
	&check.CheckerInfo{Name: "Contains", Params: []string{"haystack", "needle"}},
}

func (c *containsChecker) Check(params []interface{}, names []string) (result bool, error string) {
	defer func() {
		if v := recover(); v != nil {
			result = false
			error = fmt.Sprint(v)
		}
	}()
	var haystack interface{} = params[0]
	var needle interface{} = params[1]
	switch haystackV := reflect.ValueOf(haystack); haystackV.Kind() {
	case reflect.Slice, reflect.Array:
		if needleV := reflect.ValueOf(needle); haystackV.Type().Elem() != needleV.Type() {
			panic(fmt.Sprintf("haystack contains items of type %s but needle is a %s",
				haystackV.Type().Elem(), needleV.Type()))
		}
		for len, i := haystackV.Len(), 0; i < len; i++ {
			if reflect.DeepEqual(haystackV.Index(i).Interface(), needle) {
				return true, ""
			}
		}
		return false, ""
	case reflect.Map:
		if needleV := reflect.ValueOf(needle); haystackV.Type().Elem() != needleV.Type() {
			panic(fmt.Sprintf("haystack contains items of type %s but needle is a %s",
				haystackV.Type().Elem(), needleV.Type()))
		}
		for _, keyV := range haystackV.MapKeys() {
			if reflect.DeepEqual(haystackV.MapIndex(keyV).Interface(), needle) {
				return true, ""
			}
		}
		return false, ""
	case reflect.String:
		needle, ok := params[1].(string)
		if !ok {
			panic(fmt.Sprintf("needle must be a string when haystack is a string, not %T", params[1]))
		}
		return strings.Contains(haystackV.String(), needle), ""
	default:
		panic(fmt.Sprintf("haystack is of unsupported type %T", params[0]))
	}
}

type fileContentChecker struct {
	*check.CheckerInfo
	exact bool
}

// FileEquals verifies that the given file's content is equal to the string
// (or []byte) provided.
var FileEquals check.Checker = &fileContentChecker{
	CheckerInfo: &check.CheckerInfo{Name: "FileEquals", Params: []string{"filename", "contents"}},
	exact:       true,
}

// FileContains verifies that the given file's content contains the string
// (or []byte) provided.
var FileContains check.Checker = &fileContentChecker{
	CheckerInfo: &check.CheckerInfo{Name: "FileContains", Params: []string{"filename", "contents"}},
}

func (c *fileContentChecker) Check(params []interface{}, names []string) (result bool, error string) {
	filename, ok := params[0].(string)
	if !ok {
		return false, "Filename must be a string"
	}
	var expected []byte
	switch v := params[1].(type) {
	case string:
		expected = []byte(v)
	case []byte:
		expected = v
	default:
		return false, fmt.Sprintf("Cannot compare file contents with something of type %T", params[1])
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return false, fmt.Sprintf("Cannot read file %q: %v", filename, err)
	}
	if c.exact {
		if bytes.Equal(content, expected) {
			return true, ""
		}
	} else if bytes.Contains(content, expected) {
		return true, ""
	}
	return false, fmt.Sprintf("Failed to match with file contents:\n%s", content)
}

type filePresenceChecker struct {
	*check.CheckerInfo
	present bool
}

// FilePresent verifies that the given file exists. Symlinks are not
// followed.
var FilePresent check.Checker = &filePresenceChecker{
	CheckerInfo: &check.CheckerInfo{Name: "FilePresent", Params: []string{"filename"}},
	present:     true,
}

// FileAbsent verifies that the given file does not exist.
var FileAbsent check.Checker = &filePresenceChecker{
	CheckerInfo: &check.CheckerInfo{Name: "FileAbsent", Params: []string{"filename"}},
	present:     false,
}

func (c *filePresenceChecker) Check(params []interface{}, names []string) (result bool, error string) {
	filename, ok := params[0].(string)
	if !ok {
		return false, "filename must be a string"
	}
	_, err := os.Lstat(filename)
	if os.IsNotExist(err) && c.present {
		return false, fmt.Sprintf("file %q is absent but should exist", filename)
	}
	if err == nil && !c.present {
		return false, fmt.Sprintf("file %q is present but should not exist", filename)
	}
	return true, ""
}

type symlinkTargetChecker struct {
	*check.CheckerInfo
}

// SymlinkTargetEquals verifies that the given file is a symbolic link with
// the given target.
var SymlinkTargetEquals check.Checker = &symlinkTargetChecker{
	&check.CheckerInfo{Name: "SymlinkTargetEquals", Params: []string{"filename", "target"}},
}

func (c *symlinkTargetChecker) Check(params []interface{}, names []string) (result bool, error string) {
	filename, ok := params[0].(string)
	if !ok {
		return false, "Filename must be a string"
	}
	expected, ok := params[1].(string)
	if !ok {
		return false, fmt.Sprintf("Cannot compare symbolic link target with something of type %T", params[1])
	}
	target, err := os.Readlink(filename)
	if err != nil {
		return false, fmt.Sprintf("Cannot read symbolic link: %v", err)
	}
	if target != expected {
		return false, fmt.Sprintf("Failed to match with symbolic link target:\n%s", target)
	}
	return true, ""
}

type fileModeChecker struct {
	*check.CheckerInfo
}

// FileModeEquals verifies the permission bits (including setuid, setgid
// and sticky) of the given path, without following symlinks.
var FileModeEquals check.Checker = &fileModeChecker{
	&check.CheckerInfo{Name: "FileModeEquals", Params: []string{"filename", "mode"}},
}

func (c *fileModeChecker) Check(params []interface{}, names []string) (result bool, error string) {
	filename, ok := params[0].(string)
	if !ok {
		return false, "Filename must be a string"
	}
	expected, ok := params[1].(os.FileMode)
	if !ok {
		return false, fmt.Sprintf("Mode must be an os.FileMode, not %T", params[1])
	}
	fi, err := os.Lstat(filename)
	if err != nil {
		return false, fmt.Sprintf("Cannot stat file: %v", err)
	}
	got := fi.Mode() & (os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky)
	if got != expected {
		return false, fmt.Sprintf("File mode is %v", got)
	}
	return true, ""
}
