package services

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// JobKind 任务参数的类型标签
type JobKind string

const (
	KindFlag JobKind = "flag"
	KindSet  JobKind = "set"
	KindList JobKind = "list"
	KindMap  JobKind = "map"
)

// JobValue 带类型标签的任务参数值
//
// 多次调度同一任务时参数按类型合并：集合取并集、列表追加、
// 字典合并、布尔覆盖。类型不一致时保留旧值并记录警告。
type JobValue struct {
	Kind JobKind           `json:"kind"`
	Flag bool              `json:"flag,omitempty"`
	Set  []string          `json:"set,omitempty"`
	List []string          `json:"list,omitempty"`
	Map  map[string]string `json:"map,omitempty"`
}

// JobArgs 任务参数集
type JobArgs map[string]JobValue

// FlagValue 布尔参数
func FlagValue(v bool) JobValue {
	return JobValue{Kind: KindFlag, Flag: v}
}

// SetValue 集合参数，去重并排序
func SetValue(items ...string) JobValue {
	return JobValue{Kind: KindSet, Set: dedupSorted(items)}
}

// ListValue 列表参数，保留顺序和重复
func ListValue(items ...string) JobValue {
	list := make([]string, len(items))
	copy(list, items)
	return JobValue{Kind: KindList, List: list}
}

// MapValue 字典参数
func MapValue(m map[string]string) JobValue {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return JobValue{Kind: KindMap, Map: out}
}

// Merge 合并两个同键的参数值，类型不一致时保留existing
func (existing JobValue) Merge(incoming JobValue, log *logrus.Logger) JobValue {
	if existing.Kind != incoming.Kind {
		if log != nil {
			log.Warnf("任务参数类型不一致（%s vs %s），保留现有值", existing.Kind, incoming.Kind)
		}
		return existing
	}

	switch existing.Kind {
	case KindFlag:
		// 布尔值后写入的覆盖先写入的
		return incoming
	case KindSet:
		merged := append(append([]string{}, existing.Set...), incoming.Set...)
		return JobValue{Kind: KindSet, Set: dedupSorted(merged)}
	case KindList:
		merged := append(append([]string{}, existing.List...), incoming.List...)
		return JobValue{Kind: KindList, List: merged}
	case KindMap:
		out := make(map[string]string, len(existing.Map)+len(incoming.Map))
		for k, v := range existing.Map {
			out[k] = v
		}
		for k, v := range incoming.Map {
			out[k] = v
		}
		return JobValue{Kind: KindMap, Map: out}
	}
	return existing
}

// MergeArgs 把src合并进dst，返回合并后的新参数集
func MergeArgs(dst, src JobArgs, log *logrus.Logger) JobArgs {
	out := make(JobArgs, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if existing, ok := out[k]; ok {
			out[k] = existing.Merge(v, log)
		} else {
			out[k] = v
		}
	}
	return out
}

func dedupSorted(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
