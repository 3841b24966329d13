package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供代际/存储/策略/命中状态字段，供代理请求日志复用。
func RequestFields(generationTag, store, strategy, rule, source string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"generation_tag": generationTag,
		"store":          store,
		"strategy":       strategy,
		"rule":           rule,
		"source":         source,
		"cache_hit":      cacheHit,
	}
}

// ControlFields 描述一次控制命令，country 为空时省略。
func ControlFields(command, country string) logrus.Fields {
	fields := logrus.Fields{
		"action":  "control",
		"command": command,
	}
	if country != "" {
		fields["country"] = country
	}
	return fields
}
