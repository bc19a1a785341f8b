package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// NetworkFingerprint вычисляет хеш сети для использования как ключ кэша.
// Узлы и затворы сериализуются в каноническом порядке, поэтому
// одинаковые сети дают одинаковый хеш независимо от порядка загрузки.
func NetworkFingerprint(nodeElevations map[string]float64, gateEdges map[string][2]string) string {
	if len(nodeElevations) == 0 {
		return ""
	}

	nodeIDs := make([]string, 0, len(nodeElevations))
	for id := range nodeElevations {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	gateIDs := make([]string, 0, len(gateEdges))
	for id := range gateEdges {
		gateIDs = append(gateIDs, id)
	}
	sort.Strings(gateIDs)

	var result []byte
	for _, id := range nodeIDs {
		result = append(result, []byte(fmt.Sprintf("n:%s:%.6f;", id, nodeElevations[id]))...)
	}
	for _, id := range gateIDs {
		edge := gateEdges[id]
		result = append(result, []byte(fmt.Sprintf("g:%s:%s:%s;", id, edge[0], edge[1]))...)
	}

	hash := sha256.Sum256(result)
	return hex.EncodeToString(hash[:16])
}

// OpeningsHash вычисляет хеш вектора открытий затворов
func OpeningsHash(openings map[string]float64) string {
	if len(openings) == 0 {
		return ""
	}

	ids := make([]string, 0, len(openings))
	for id := range openings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var data []byte
	for _, id := range ids {
		data = append(data, []byte(fmt.Sprintf("%s:%.4f;", id, openings[id]))...)
	}

	return ShortHash(data)
}

// BuildSolveKey строит ключ кэша для результата гидравлического расчёта
func BuildSolveKey(networkHash, openingsHash string) string {
	return fmt.Sprintf("solve:%s:%s", networkHash, openingsHash)
}

// BuildDemandKey строит ключ мемоизации агрегированного спроса
func BuildDemandKey(year, week int, weatherAdj, rainfallMM float64, plotCount int) string {
	return fmt.Sprintf("demand:%d:w%02d:%.2f:%.1f:%d", year, week, weatherAdj, rainfallMM, plotCount)
}

// ActiveScheduleKey строит ключ указателя активного расписания
func ActiveScheduleKey(year, week int) string {
	return fmt.Sprintf("active_schedule:%d:week_%d", year, week)
}

// TeamLocationKey строит ключ последней позиции бригады
func TeamLocationKey(teamCode string) string {
	return fmt.Sprintf("team_location:%s", teamCode)
}

// GateMeasurementKey строит ключ последнего измерения затвора
func GateMeasurementKey(gateID string) string {
	return fmt.Sprintf("gate_measurement:%s", gateID)
}

// AdaptationHistoryKey строит ключ истории адаптаций расписания
func AdaptationHistoryKey(scheduleID string) string {
	return fmt.Sprintf("adaptation_history:%s", scheduleID)
}

// QuickHash быстрый хеш для произвольных данных
func QuickHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ShortHash короткий хеш (16 символов)
func ShortHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}
