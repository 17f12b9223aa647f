// Package config 负责加载守护进程启动所需的 JSON 配置，并为缺省字段
// 填充合理的默认值。
package config
