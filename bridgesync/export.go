package bridgesync

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wavelinknet/ispbridge_backend/models"
	"github.com/xuri/excelize/v2"
)

// ExportMappingsHandler streams every mapping, joined with both records,
// as an xlsx download.
func ExportMappingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		mappings, err := models.GetCustomerMappingsEnriched(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		f := excelize.NewFile()
		sheetName := "Mappings"
		index, err := f.NewSheet(sheetName)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		f.SetActiveSheet(index)
		f.DeleteSheet("Sheet1")

		headers := []string{"SplynxCustomerId", "Login", "CustomerName", "UispClientId", "CustomId", "ClientName", "Notes", "CreatedAt"}
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			f.SetCellValue(sheetName, cell, h)
		}

		for i, m := range mappings {
			row := i + 2
			login := ""
			customerName := ""
			if m.SplynxCustomer != nil {
				login = m.SplynxCustomer.Login
				customerName = m.SplynxCustomer.Name
			}
			customId := ""
			clientName := ""
			if m.UispClient != nil {
				customId = m.UispClient.CustomId
				clientName = m.UispClient.Name
			}

			values := []interface{}{
				m.SplynxCustomerId,
				login,
				customerName,
				m.UispClientId,
				customId,
				clientName,
				m.Notes,
				m.CreatedAt.UTC().Format(time.RFC3339),
			}
			for col, value := range values {
				cell, _ := excelize.CoordinatesToCellName(col+1, row)
				f.SetCellValue(sheetName, cell, value)
			}
		}

		filename := fmt.Sprintf("customer_mappings_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename="+filename)
		if err := f.Write(c.Writer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write file"})
		}
	}
}
